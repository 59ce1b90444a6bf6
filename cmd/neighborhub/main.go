package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"neighborhub/internal/app/analytics"
	"neighborhub/internal/app/commands"
	chathandlers "neighborhub/internal/app/handlers/chat"
	"neighborhub/internal/app/middleware"
	appoutbox "neighborhub/internal/app/outbox"
	"neighborhub/internal/app/policies"
	"neighborhub/internal/app/queries"
	authsvc "neighborhub/internal/app/services/auth"
	"neighborhub/internal/app/uow"
	domainanalytics "neighborhub/internal/domain/analytics"
	domainauth "neighborhub/internal/domain/auth"
	domainuser "neighborhub/internal/domain/user"
	"neighborhub/internal/infra/broker/kafka"
	cacheredis "neighborhub/internal/infra/cache/redis"
	"neighborhub/internal/infra/config"
	mongostore "neighborhub/internal/infra/db/mongo"
	"neighborhub/internal/infra/db/scylla"
	grpcserver "neighborhub/internal/infra/grpc"
	ginserver "neighborhub/internal/infra/http/gin"
	"neighborhub/internal/infra/inbox"
	"neighborhub/internal/infra/obs"
	"neighborhub/internal/infra/outbox"
	"neighborhub/internal/infra/security"
	"neighborhub/internal/infra/storage/local"
	"neighborhub/internal/infra/storage/memory"
	s3storage "neighborhub/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)
	if err := config.LoadDotEnv(); err != nil {
		logger.Warn(".env load failed", "error", err)
	}

	cfg, err := config.LoadOrDev(env)
	switch {
	case errors.Is(err, config.ErrDevFallback):
		logger.Warn("using fallback configuration", "error", err)
		cfg.Env = env
	case err != nil:
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("application init failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	health := obs.HealthHandlers{Ready: app.ready}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, health, app.handlers)

	var wg sync.WaitGroup
	for _, job := range app.background {
		wg.Add(1)
		go func(job backgroundJob) {
			defer wg.Done()
			if err := job.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background job stopped", "job", job.name, "error", err)
			}
		}(job)
	}
	if cfg.GRPCHealthAddr != "" {
		hs := grpcserver.NewHealthServer(health.Check, 5*time.Second, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hs.Serve(ctx, cfg.GRPCHealthAddr); err != nil {
				logger.Error("grpc health server failed", "error", err, "addr", cfg.GRPCHealthAddr)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "sessions", cfg.SessionStore, "media", cfg.MediaStorage)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		stop()
		wg.Wait()
		app.close()
		os.Exit(1)
	}
	stop()
	wg.Wait()
	logger.Info("HTTP server stopped")
}

type backgroundJob struct {
	name string
	run  func(ctx context.Context) error
}

type application struct {
	handlers   ginserver.Handlers
	probes     []func(ctx context.Context) error
	background []backgroundJob
	closers    []func()
	closeOnce  *sync.Once
}

func (a *application) ready(ctx context.Context) error {
	var errs []error
	for _, probe := range a.probes {
		if err := probe(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// close releases resources in reverse order of acquisition.
func (a *application) close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}

// storage is what a store driver contributes to the application.
type storage struct {
	factory       uow.UoWFactory
	users         domainuser.Repository
	outbox        appoutbox.Outbox
	idempotency   middleware.IdempotencyStore
	views         domainanalytics.Sink
	transactional bool
	idGenerator   func() string
	mongo         *mongostore.Client
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{closeOnce: &sync.Once{}}
	fail := func(err error) (*application, error) {
		app.close()
		return nil, err
	}

	store, err := openStorage(ctx, cfg, logger, app)
	if err != nil {
		return fail(err)
	}
	sessions, err := openSessions(ctx, cfg, app)
	if err != nil {
		return fail(err)
	}
	media, err := openMedia(cfg, logger)
	if err != nil {
		return fail(err)
	}
	viewSink, err := wireKafka(ctx, cfg, logger, store, app)
	if err != nil {
		return fail(err)
	}

	issuer, err := security.NewJWTIssuer(cfg.JWTSecret, "neighborhub")
	if err != nil {
		return fail(err)
	}
	auth := &authsvc.Service{
		Users:      store.users,
		Sessions:   sessions,
		Passwords:  security.BcryptHasher{},
		Tokens:     issuer,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}
	if len(cfg.AdminEmails) > 0 {
		n, err := auth.EnsureAdmins(ctx, authsvc.AdminBootstrap{Emails: cfg.AdminEmails, Password: cfg.AdminPassword})
		if err != nil {
			return fail(fmt.Errorf("admin bootstrap: %w", err))
		}
		logger.Info("admin bootstrap applied", "emails", len(cfg.AdminEmails), "changed", n)
	}

	commandBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chathandlers.Register(commandBus, queryBus, chathandlers.Dependencies{
		UoWFactory:     store.factory,
		Outbox:         store.outbox,
		Storage:        media,
		MaxUploadBytes: cfg.UploadMaxBytes,
		Transactional:  store.transactional,
		IDGenerator:    store.idGenerator,
		Logger:         logger,
	})
	logger.Info("command handlers registered", "keys", commandBus.Keys())
	logger.Info("query handlers registered", "keys", queryBus.Keys())

	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Validation(middleware.SelfValidator{}),
		middleware.Idempotency(store.idempotency, nil),
		middleware.Transaction(store.factory, nil),
		middleware.OutboxFlush(store.outbox, logger),
	)
	queryBusWithMiddleware := middleware.ChainQueries(
		queryBus,
		middleware.QueryValidation(middleware.SelfValidator{}),
		middleware.QueryAuthorization(middleware.RoleAuthorizer{}),
	)

	tracker := analytics.NewTracker(viewSink, cfg.ViewBuffer, logger)
	tracker.Start()
	app.closers = append(app.closers, tracker.Close)

	app.handlers = ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Commands:       commandBusWithMiddleware,
			Queries:        queryBusWithMiddleware,
			MaxUploadBytes: cfg.UploadMaxBytes,
			Logger:         logger,
		},
		Views:          ginserver.ViewHandler{Tracker: tracker, Logger: logger},
		Auth:           ginserver.AuthHandler{Service: auth, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{Service: auth, Logger: logger}.Handle,
	}
	if cfg.MediaStorage == config.MediaLocal {
		app.handlers.UploadDir = cfg.UploadDir
		app.handlers.UploadPrefix = cfg.UploadPublicPrefix
	}
	return app, nil
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger, app *application) (storage, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := connectMongo(ctx, cfg, app)
		if err != nil {
			return storage{}, err
		}
		factory := mongostore.NewFactory(client.DB, cfg.MongoTransactions)
		box, err := outbox.NewStore(ctx, client.DB)
		if err != nil {
			return storage{}, fmt.Errorf("outbox store: %w", err)
		}
		idem, err := mongostore.NewIdempotencyStore(ctx, client.DB)
		if err != nil {
			return storage{}, fmt.Errorf("idempotency store: %w", err)
		}
		return storage{
			factory:       factory,
			users:         factory.UsersRepo,
			outbox:        box,
			idempotency:   idem,
			views:         mongostore.NewViewStore(client.DB),
			transactional: cfg.MongoTransactions,
			mongo:         client,
		}, nil

	case config.StoreScylla:
		session, err := scylla.NewSession(scylla.Options{
			Hosts:             cfg.ScyllaHosts,
			Keyspace:          cfg.ScyllaKeyspace,
			Username:          cfg.ScyllaUsername,
			Password:          cfg.ScyllaPassword,
			Consistency:       cfg.ScyllaConsistency,
			Timeout:           cfg.ScyllaTimeout,
			ReplicationFactor: cfg.ScyllaReplicationFactor,
		}, logger)
		if err != nil {
			return storage{}, err
		}
		app.closers = append(app.closers, session.Close)
		app.probes = append(app.probes, func(ctx context.Context) error {
			return session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
		})
		st := storage{
			outbox:      memory.NewOutbox(),
			idempotency: memory.NewIdempotencyStore(),
			views:       memory.NewViewStore(),
			idGenerator: scylla.NewID,
		}
		// Scylla holds chat data only; accounts live in Mongo when configured.
		if cfg.MongoURI != "" {
			client, err := connectMongo(ctx, cfg, app)
			if err != nil {
				return storage{}, err
			}
			st.users = mongostore.NewUserRepository(client.DB)
			st.views = mongostore.NewViewStore(client.DB)
			st.mongo = client
		} else {
			st.users = memory.NewUserRepository()
		}
		st.factory = scylla.NewFactory(session, st.users, logger)
		return st, nil

	default:
		users := memory.NewUserRepository()
		return storage{
			factory:       memory.NewFactory(users),
			users:         users,
			outbox:        &memory.Outbox{Logger: logger},
			idempotency:   memory.NewIdempotencyStore(),
			views:         memory.NewViewStore(),
			transactional: true,
		}, nil
	}
}

func connectMongo(ctx context.Context, cfg config.Config, app *application) (*mongostore.Client, error) {
	client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	app.closers = append(app.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(shutdownCtx)
	})
	if err := client.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	app.probes = append(app.probes, client.Ping)
	return client, nil
}

func openSessions(ctx context.Context, cfg config.Config, app *application) (domainauth.SessionStore, error) {
	if cfg.SessionStore != config.SessionsRedis {
		return memory.NewSessionStore(), nil
	}
	rdb, err := cacheredis.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = rdb.Close() })
	app.probes = append(app.probes, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	return cacheredis.NewSessionStore(rdb), nil
}

func openMedia(cfg config.Config, logger *slog.Logger) (policies.MediaStorage, error) {
	if cfg.MediaStorage == config.MediaS3 {
		return s3storage.NewClient(s3storage.Options{
			Endpoint:       cfg.S3Endpoint,
			PublicEndpoint: cfg.S3PublicEndpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Bucket:         cfg.S3Bucket,
			UseSSL:         cfg.S3UseSSL,
		}, logger)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	return local.Storage{Dir: cfg.UploadDir, PublicPrefix: cfg.UploadPublicPrefix, Logger: logger}, nil
}

// wireKafka connects event publishing and view ingestion when brokers are
// configured and returns the sink the view tracker should write to.
func wireKafka(ctx context.Context, cfg config.Config, logger *slog.Logger, store storage, app *application) (domainanalytics.Sink, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return store.views, nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	app.closers = append(app.closers, func() { _ = producer.Close() })
	publisher := outbox.Publisher{Producer: producer, TopicPrefix: cfg.KafkaTopicPrefix}

	switch box := store.outbox.(type) {
	case *memory.Outbox:
		box.Publisher = publisher
	case *outbox.Store:
		worker := &outbox.Worker{
			Store:     box,
			Publisher: publisher,
			Interval:  cfg.OutboxPollInterval,
			Backoff:   cfg.RetryBackoff,
			Logger:    logger,
		}
		app.background = append(app.background, backgroundJob{name: "outbox", run: worker.Run})
	}

	sink := kafka.ViewSink{Producer: producer, TopicPrefix: cfg.KafkaTopicPrefix}
	if store.mongo == nil {
		logger.Warn("kafka view ingestion disabled: no mongo database for the inbox")
		return sink, nil
	}
	inboxStore, err := inbox.NewStore(ctx, store.mongo.DB, cfg.KafkaGroupID)
	if err != nil {
		return nil, fmt.Errorf("inbox store: %w", err)
	}
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, kafka.ViewIngestHandler{
		Inbox:  inboxStore,
		Sink:   store.views,
		Logger: logger,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	app.closers = append(app.closers, func() { _ = consumer.Close() })
	app.background = append(app.background, backgroundJob{
		name: "view-ingest",
		run: func(ctx context.Context) error {
			return consumer.Run(ctx, []string{sink.Topic()})
		},
	})
	return sink, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
