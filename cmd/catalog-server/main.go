// catalog-server wires the catalog core together: store, secrets,
// authorization backend, storage access broker, commit engine, event
// sink, task workers, and the remote-signing endpoint.
//
// Exit codes: 0 on clean shutdown, 1 on configuration or migration
// failure, 2 on a missing required credential.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/authz"
	"github.com/gear6io/icecatalog/server/catalogstore"
	"github.com/gear6io/icecatalog/server/commit"
	"github.com/gear6io/icecatalog/server/config"
	"github.com/gear6io/icecatalog/server/events"
	"github.com/gear6io/icecatalog/server/gateway"
	"github.com/gear6io/icecatalog/server/secrets"
	"github.com/gear6io/icecatalog/server/storageaccess"
	"github.com/gear6io/icecatalog/server/tasks"
	"github.com/rs/zerolog"
)

const (
	exitOK                = 0
	exitConfigOrMigration = 1
	exitMissingCredential = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the yaml configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			return exitConfigOrMigration
		}
		cfg = loaded
	}

	logger := config.SetupLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := catalogstore.NewStore(ctx, catalogstore.Options{
		URLWrite:     cfg.Postgres.URLWrite,
		URLRead:      cfg.Postgres.URLRead,
		PoolMaxConns: cfg.Postgres.PoolMaxConns,
		Logger:       logger.With().Str("component", "catalogstore").Logger(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("catalog store startup failed")
		return exitConfigOrMigration
	}
	defer store.Close()

	secretStore, err := secrets.New(ctx, cfg.Secrets, store.WriteDB(), cfg.Postgres.EncryptionKey)
	if err != nil {
		logger.Error().Err(err).Msg("secrets backend startup failed")
		if errors.GetCode(err) == secrets.ErrBackendConfig.String() {
			return exitMissingCredential
		}
		return exitConfigOrMigration
	}

	authorizer, closeAuthz, err := buildAuthorizer(cfg, store, logger)
	if err != nil {
		logger.Error().Err(err).Msg("authorization backend startup failed")
		return exitConfigOrMigration
	}
	defer closeAuthz()

	sink, err := events.NewSink(cfg.Events, logger.With().Str("component", "events").Logger())
	if err != nil {
		logger.Error().Err(err).Msg("event sink startup failed")
		return exitConfigOrMigration
	}
	defer sink.Close()

	var verifier commit.ContractVerifier = events.AllowAllVerifier{}
	if cfg.Events.ContractWebhookURL != "" {
		verifier = events.NewWebhookVerifier(cfg.Events.ContractWebhookURL, logger)
	}

	broker := storageaccess.NewBroker(storageaccess.Options{
		Store:   store,
		Secrets: secretStore,
		Authz:   authorizer,
		Logger:  logger.With().Str("component", "storageaccess").Logger(),
	})

	queue := tasks.NewQueue(store.WriteDB(), logger.With().Str("component", "tasks").Logger())
	enqueuer := tasks.NewCommitEnqueuer(queue, store)

	engine := commit.NewEngine(commit.Options{
		Store:    store,
		Authz:    authorizer,
		Writer:   broker,
		Events:   sink,
		Contract: verifier,
		Tasks:    enqueuer,
		Logger:   logger.With().Str("component", "commit").Logger(),
	})

	pool := tasks.NewWorkerPool(store.WriteDB(), queue, tasks.WorkerPoolOptions{
		PollInterval: time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
		MaxTaskAge:   time.Duration(cfg.Queue.MaxAgeSeconds) * time.Second,
		Logger:       logger.With().Str("component", "worker").Logger(),
	})
	taskLogger := logger.With().Str("component", "tasks").Logger()
	pool.Register(&tasks.ExpirationHandler{Store: store, Tasks: queue, Log: taskLogger})
	pool.Register(&tasks.PurgeHandler{Objects: broker, Log: taskLogger})
	pool.Register(&tasks.MetadataLogCleanupHandler{Store: store, Objects: broker, Log: taskLogger})
	pool.Register(&tasks.StatisticsRollupHandler{
		Store:      store,
		MaxAge:     time.Duration(cfg.Stats.MaxAgeDays) * 24 * time.Hour,
		MaxEntries: cfg.Stats.MaxEntries,
		Log:        taskLogger,
	})
	pool.Start(ctx)
	defer pool.Stop()

	cronScheduler := tasks.NewCronScheduler(store.WriteDB(), queue, taskLogger)
	if err := cronScheduler.LoadAndStart(ctx); err != nil {
		logger.Error().Err(err).Msg("cron scheduler startup failed")
		return exitConfigOrMigration
	}
	defer cronScheduler.Stop()

	gw := gateway.New(gateway.Options{
		Broker:       broker,
		Store:        store,
		Engine:       engine,
		Principals:   opaquePrincipalResolver{},
		Logger:       logger.With().Str("component", "gateway").Logger(),
		IncludeStack: cfg.Debug.ExtendedLogs,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Listen(addr) }()
	logger.Info().Str("addr", addr).Msg("catalog server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("listener failed")
			return exitConfigOrMigration
		}
	}

	if err := gw.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("gateway shutdown was not clean")
	}
	return exitOK
}

// buildAuthorizer selects the authorization backend from configuration. The
// variant list is closed; config.Validate has already rejected unknown
// names, the default branch is belt-and-suspenders.
func buildAuthorizer(cfg *config.Config, store *catalogstore.Store, logger zerolog.Logger) (authz.Authorizer, func(), error) {
	switch cfg.AuthZ.Backend {
	case "", "allowall":
		return authz.NewAllowAll(), func() {}, nil
	case "relation":
		adapter := catalogstore.NewAuthzAdapter(store)
		audit := func(ctx context.Context, q authz.Query, d authz.Decision) {
			if err := adapter.WriteAuditEvent(ctx, q.Principal.ID, q, d); err != nil {
				logger.Debug().Err(err).Msg("audit event not recorded")
			}
		}
		return authz.NewRelationBackend(adapter, adapter, audit), func() {}, nil
	case "policy":
		backend, err := authz.NewPolicyBackend(cfg.AuthZ.PolicyDir, logger.With().Str("component", "authz").Logger())
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { _ = backend.Close() }, nil
	default:
		return nil, nil, errors.Newf(config.ErrConfigValidate, "unknown authz backend %q", cfg.AuthZ.Backend)
	}
}

// opaquePrincipalResolver treats the bearer token's subject as the
// principal. OpenID discovery and token verification are external
// plumbing; deployments slot their verified resolver in
// front of the gateway.
type opaquePrincipalResolver struct{}

func (opaquePrincipalResolver) Resolve(_ context.Context, token string) (authz.Principal, error) {
	if token == "" {
		return authz.Principal{}, errors.New(errors.CommonUnauthorized, "empty bearer credential")
	}
	return authz.Principal{ID: token}, nil
}
