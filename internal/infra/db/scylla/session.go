package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/gocql/gocql"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type Options struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       string
	Timeout           time.Duration
	ReplicationFactor int
}

// NewSession ensures the keyspace and chat tables exist and returns a session bound to the keyspace.
func NewSession(opts Options, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(opts.Keyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", opts.Keyspace)
	}
	consistency := gocql.Quorum
	if opts.Consistency != "" {
		parsed, err := gocql.ParseConsistencyWrapper(opts.Consistency)
		if err != nil {
			return nil, fmt.Errorf("invalid consistency %q: %w", opts.Consistency, err)
		}
		consistency = parsed
	}
	if opts.ReplicationFactor <= 0 {
		opts.ReplicationFactor = 1
	}

	baseSession, err := newCluster(opts, consistency, "").CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()
	if err := ensureKeyspace(context.Background(), baseSession, opts); err != nil {
		return nil, err
	}

	session, err := newCluster(opts, consistency, opts.Keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", opts.Keyspace, err)
	}
	if err := ensureTables(context.Background(), session); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", opts.Hosts, "keyspace", opts.Keyspace)
	}
	return session, nil
}

func newCluster(opts Options, consistency gocql.Consistency, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(opts.Hosts...)
	if opts.Timeout > 0 {
		cluster.Timeout = opts.Timeout
		cluster.ConnectTimeout = opts.Timeout
	}
	cluster.Keyspace = keyspace
	cluster.Consistency = consistency
	cluster.SerialConsistency = gocql.Serial
	if opts.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: opts.Username,
			Password: opts.Password,
		}
	}
	return cluster
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, opts Options) error {
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		opts.Keyspace, opts.ReplicationFactor,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

var schema = []struct {
	name string
	cql  string
}{
	{"conversations", `
CREATE TABLE IF NOT EXISTS conversations (
	id uuid PRIMARY KEY,
	pair_key text,
	participants set<text>,
	item_id text,
	service_id text,
	last_message text,
	created_at timestamp,
	updated_at timestamp
)`},
	{"conversations participants index", `CREATE INDEX IF NOT EXISTS conversations_participants_idx ON conversations (values(participants))`},
	{"conversations_by_key", `
CREATE TABLE IF NOT EXISTS conversations_by_key (
	pair_key text PRIMARY KEY,
	conversation_id uuid
)`},
	{"messages", `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id uuid,
	created_at timestamp,
	message_id timeuuid,
	sender_id text,
	receiver_id text,
	text text,
	media text,
	read boolean,
	PRIMARY KEY (conversation_id, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC)`},
}

func ensureTables(ctx context.Context, session *gocql.Session) error {
	for _, stmt := range schema {
		if err := session.Query(stmt.cql).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s: %w", stmt.name, err)
		}
	}
	return nil
}
