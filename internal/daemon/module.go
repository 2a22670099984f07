package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/pending"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/settings"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // optional override; empty = ~/.chatsync/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDB,
			provideStore,
			provideConn,
			provideREST,
			provideOutbox,
			providePresence,
			provideUnread,
			providePending,
			provideSettings,
			provideEngine,
			provideControlService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideDB takes the lock so the database is only touched by the owner.
func provideDB(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
	db, res, err := store.OpenFresh(dbPath)
	if err != nil {
		return nil, err
	}
	logger.Info("store initialized",
		zap.String("path", dbPath),
		zap.Uint("version", res.Version),
		zap.Bool("migrated", res.Changed),
	)
	return db, nil
}

func provideStore(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) (*store.Store, error) {
	userID, err := session.UserID(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("syncing as user", zap.String("user_id", userID))
	return store.New(userID, db, b, cfg.Sync.TypingTimeout.Duration, logger.Named("store")), nil
}

func provideConn(cfg *config.Config, m *status.Machine, logger *zap.Logger) *conn.Manager {
	return conn.New(conn.Config{
		URL:                  cfg.Server.SocketURL,
		Token:                cfg.Server.Token,
		HeartbeatInterval:    cfg.Sync.HeartbeatInterval.Duration,
		ReconnectDelay:       cfg.Sync.ReconnectDelay.Duration,
		ReconnectMaxDelay:    cfg.Sync.ReconnectMaxDelay.Duration,
		MaxReconnectAttempts: cfg.Sync.MaxReconnectAttempts,
	}, m, logger.Named("conn"))
}

func provideREST(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.New(rest.Config{BaseURL: cfg.Server.APIURL, Token: cfg.Server.Token}, logger.Named("rest"))
}

func provideOutbox(cfg *config.Config, st *store.Store, cm *conn.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(st, cm, b, cfg.Sync.MaxContentLength, cfg.Sync.AckTimeout.Duration, logger.Named("outbox"))
}

func providePresence(cfg *config.Config, st *store.Store, cm *conn.Manager, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(st, cm, cfg.Sync.TypingTimeout.Duration, logger.Named("presence"))
}

func provideUnread(st *store.Store, cm *conn.Manager, rc *rest.Client, logger *zap.Logger) *unread.Service {
	return unread.NewService(st, cm, rc, logger.Named("unread"))
}

func providePending(st *store.Store, rc *rest.Client, b *bus.Bus, logger *zap.Logger) *pending.Workflow {
	return pending.NewWorkflow(st, rc, b, logger.Named("pending"))
}

func provideSettings(db *store.DB, rc *rest.Client, logger *zap.Logger) *settings.Provider {
	return settings.NewProvider(db, rc, logger.Named("settings"))
}

func provideEngine(
	cfg *config.Config,
	st *store.Store,
	cm *conn.Manager,
	rc *rest.Client,
	pipe *outbox.Pipeline,
	tracker *presence.Tracker,
	us *unread.Service,
	pw *pending.Workflow,
	b *bus.Bus,
	logger *zap.Logger,
) *intsync.Engine {
	return intsync.NewEngine(intsync.Deps{
		Store:    st,
		Conn:     cm,
		API:      rc,
		Outbox:   pipe,
		Presence: tracker,
		Unread:   us,
		Pending:  pw,
		Bus:      b,
		Logger:   logger.Named("sync"),
	}, intsync.Options{
		PageSize:     cfg.Sync.PageSize,
		RecallWindow: cfg.Sync.RecallWindow.Duration,
	})
}

func provideControlService(p Params, m *status.Machine, engine *intsync.Engine, db *store.DB, sp *settings.Provider, rc *rest.Client, logger *zap.Logger) *api.Service {
	return api.NewService(p.Profile, m, engine, db, sp, rc, logger.Named("api"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	svc *api.Service,
	lk *lock.Lock,
	db *store.DB,
	st *store.Store,
	cm *conn.Manager,
	engine *intsync.Engine,
	pipe *outbox.Pipeline,
	tracker *presence.Tracker,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Handlers must be registered before the first connect event.
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// The first attempt can take a dial timeout; the manager keeps
			// retrying in the background after a failure.
			go func() {
				if err := cm.Connect(context.Background(), st.SelfID()); err != nil {
					logger.Warn("initial connect failed, retrying", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cm.Disconnect()
			engine.Stop()
			pipe.Close()
			tracker.Close()
			st.Close()
			svc.Close()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
