// Package daemon composes the wasyncd process: store, gateway adapter,
// session machine, sync engine, outbox sender, and the control socket.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/config"
	"github.com/edubauerdev/wasync/internal/contacts"
	"github.com/edubauerdev/wasync/internal/lock"
	"github.com/edubauerdev/wasync/internal/logging"
	"github.com/edubauerdev/wasync/internal/outbox"
	"github.com/edubauerdev/wasync/internal/session"
	"github.com/edubauerdev/wasync/internal/store"
	intsync "github.com/edubauerdev/wasync/internal/sync"
	"github.com/edubauerdev/wasync/internal/wa"
	"github.com/edubauerdev/wasync/internal/workspace"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	// ManualConnect starts a pairing flow when no credential is stored.
	// Without it the daemon stays in standby until credentials appear.
	ManualConnect bool
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideAdapter,
			provideResolver,
			provideMachine,
			provideSyncEngine,
			provideSender,
			provideQRRenderer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(workspace.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(workspace.ConfigPath())
	if err != nil {
		// A missing config file is the common case on first run.
		logger.Info("no config file, using defaults")
		return &config.Config{}
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := workspace.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(workspace.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := workspace.StoreDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(p Params, _ *lock.Lock, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, logger)
}

func provideResolver() *contacts.Resolver {
	return contacts.NewResolver()
}

func provideMachine(adapter *wa.Adapter, db *store.DB, b *bus.Bus, logger *zap.Logger) *session.Machine {
	return session.NewMachine(adapter, db, b, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, resolver *contacts.Resolver, machine *session.Machine, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, resolver, machine, logger)
}

func provideSender(db *store.DB, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, b, adapter, logger)
}

func provideQRRenderer(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *QRRenderer {
	return NewQRRenderer(b, cfg.RenderQR(), logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	lk *lock.Lock,
	adapter *wa.Adapter,
	engine *intsync.Engine,
	sender *outbox.Sender,
	machine *session.Machine,
	qr *QRRenderer,
	b *bus.Bus,
	logger *zap.Logger,
) {
	var stopTracking func()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start()

			handler := wa.NewEventHandler(b, machine, adapter, logger)
			adapter.RegisterEventHandler(handler.Handle)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			stopTracking = srv.TrackStatus(b)

			qr.Start()
			sender.Start()

			machine.RequestConnect(p.ManualConnect)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			machine.Stop()
			sender.Stop()
			qr.Stop()
			adapter.Disconnect()
			engine.Stop()
			if stopTracking != nil {
				stopTracking()
			}
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
