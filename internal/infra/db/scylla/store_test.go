package scylla

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "neighborhub/internal/domain/chat"
	"neighborhub/internal/infra/storage/memory"
)

func TestRowsRoundTripDomainIDs(t *testing.T) {
	conv, err := domainchat.Start(domainchat.StartParams{
		ID:        domainchat.ConversationID(NewID()),
		Requester: "b",
		Other:     "a",
		Scope:     domainchat.Scope{ServiceID: "svc-1"},
	})
	require.NoError(t, err)
	row, err := newConversationRow(conv)
	require.NoError(t, err)
	back := row.toAggregate()
	assert.Equal(t, conv.ID, back.ID)
	assert.Equal(t, []string{"a", "b"}, back.Participants)
	assert.Equal(t, conv.Key(), back.Key())

	msg, err := conv.Post(domainchat.MessageID(NewID()), "a", domainchat.Content{Media: "/uploads/x.png"}, time.Now())
	require.NoError(t, err)
	mrow, err := newMessageRow(msg)
	require.NoError(t, err)
	assert.Equal(t, "b", mrow.Receiver)
	assert.Equal(t, msg.ID, mrow.toDomain().ID)

	_, err = newConversationRow(&domainchat.Conversation{ID: "507f1f77bcf86cd799439011"})
	assert.Error(t, err)
}

func TestConversationRowsSortByActivity(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := []conversationRow{
		{ID: gocql.TimeUUID(), UpdatedAt: base},
		{ID: gocql.TimeUUID(), UpdatedAt: base.Add(time.Minute)},
		{ID: gocql.TimeUUID(), UpdatedAt: base.Add(-time.Minute)},
	}
	sortConversationRows(rows)
	assert.True(t, rows[0].UpdatedAt.Equal(base.Add(time.Minute)))
	assert.True(t, rows[2].UpdatedAt.Equal(base.Add(-time.Minute)))
}

// Set SCYLLA_TEST_HOSTS to run against a live cluster.
func liveFactory(t *testing.T) Factory {
	t.Helper()
	hosts := os.Getenv("SCYLLA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("SCYLLA_TEST_HOSTS not set")
	}
	session, err := NewSession(Options{
		Hosts:    strings.Split(hosts, ","),
		Keyspace: fmt.Sprintf("neighborhub_test_%d", time.Now().UnixNano()),
		Timeout:  10 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return NewFactory(session, memory.NewUserRepository(), nil)
}

func TestLiveFindOrCreateConverges(t *testing.T) {
	f := liveFactory(t)
	ctx := context.Background()

	const racers = 4
	ids := make([]domainchat.ConversationID, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			candidate, err := domainchat.Start(domainchat.StartParams{ID: domainchat.ConversationID(NewID()), Requester: "a", Other: "b"})
			if !assert.NoError(t, err) {
				return
			}
			conv, _, err := f.ConversationsRepo.FindOrCreate(ctx, candidate)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	all, err := f.ConversationsRepo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLiveUnreadAndMarkRead(t *testing.T) {
	f := liveFactory(t)
	ctx := context.Background()

	conv, err := domainchat.Start(domainchat.StartParams{ID: domainchat.ConversationID(NewID()), Requester: "a", Other: "b"})
	require.NoError(t, err)
	conv, _, err = f.ConversationsRepo.FindOrCreate(ctx, conv)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 2; i++ {
		msg, err := conv.Post(domainchat.MessageID(NewID()), "a", domainchat.Content{Text: fmt.Sprint(i)}, base.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, f.MessagesRepo.Append(ctx, msg))
	}
	require.NoError(t, f.ConversationsRepo.Touch(ctx, conv))

	counts, err := f.MessagesRepo.UnreadCounts(ctx, "b", []domainchat.ConversationID{conv.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[conv.ID])

	n, err := f.MessagesRepo.MarkRead(ctx, conv.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	listed, err := f.ConversationsRepo.ListByParticipant(ctx, "b")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "1", listed[0].LastMessage)
}

func TestLiveUnreadCountsAcrossConversations(t *testing.T) {
	f := liveFactory(t)
	ctx := context.Background()

	post := func(other string, sender string, n int) domainchat.ConversationID {
		conv, err := domainchat.Start(domainchat.StartParams{ID: domainchat.ConversationID(NewID()), Requester: "viewer", Other: other})
		require.NoError(t, err)
		conv, _, err = f.ConversationsRepo.FindOrCreate(ctx, conv)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			msg, err := conv.Post(domainchat.MessageID(NewID()), sender, domainchat.Content{Text: fmt.Sprint(i)}, time.Now())
			require.NoError(t, err)
			require.NoError(t, f.MessagesRepo.Append(ctx, msg))
		}
		return conv.ID
	}
	three := post("p1", "p1", 3)
	one := post("p2", "p2", 1)
	own := post("p3", "viewer", 2)

	counts, err := f.MessagesRepo.UnreadCounts(ctx, "viewer", []domainchat.ConversationID{three, one, own, "not-a-uuid"})
	require.NoError(t, err)
	assert.Equal(t, map[domainchat.ConversationID]int{three: 3, one: 1}, counts)
}
