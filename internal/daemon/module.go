// Package daemon assembles the engine and its collaborators into an fx
// application scoped to one session and one active conversation.
package daemon

import (
	"context"

	"github.com/mfigueira/convo/internal/bus"
	"github.com/mfigueira/convo/internal/config"
	"github.com/mfigueira/convo/internal/engine"
	"github.com/mfigueira/convo/internal/lock"
	"github.com/mfigueira/convo/internal/logging"
	"github.com/mfigueira/convo/internal/outbound"
	"github.com/mfigueira/convo/internal/presence"
	"github.com/mfigueira/convo/internal/session"
	"github.com/mfigueira/convo/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session and conversation configuration.
type Params struct {
	SessionName    string
	ConversationID string
	SelfID         string
	RecipientID    string
	RecipientKind  outbound.RecipientKind
	PeerName       string
}

// Collaborators are the external interfaces the engine consumes: the send
// transport, and optionally a presence channel and a read-receipt sink.
type Collaborators struct {
	Transport outbound.Transport
	Notifier  presence.Notifier
	Receipter engine.ReadReceipter
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params, c Collaborators) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			func(db *store.DB, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *engine.Engine {
				return engine.New(db, cfg, b, engine.Options{
					ConversationID: p.ConversationID,
					SelfID:         p.SelfID,
					RecipientID:    p.RecipientID,
					RecipientKind:  p.RecipientKind,
					PeerName:       p.PeerName,
					Transport:      c.Transport,
					Notifier:       c.Notifier,
					Receipter:      c.Receipter,
				}, logger)
			},
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(session.DBPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("database migrated", zap.Uint("version", result.Version))
	}
	return db, nil
}

func registerLifecycle(lc fx.Lifecycle, p Params, eng *engine.Engine, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := db.UpsertConversation(&store.Conversation{
				ID:       p.ConversationID,
				PeerID:   p.RecipientID,
				PeerName: p.PeerName,
				IsGroup:  p.RecipientKind == outbound.RecipientGroup,
			}); err != nil {
				return err
			}

			eng.Start(context.Background())
			if err := eng.InitializeWindow(); err != nil {
				return err
			}

			offset, length := eng.Window()
			logger.Info("conversation window initialized",
				zap.String("conversation", p.ConversationID),
				zap.Int("offset", offset),
				zap.Int("length", length))
			return nil
		},
		OnStop: func(_ context.Context) error {
			eng.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
