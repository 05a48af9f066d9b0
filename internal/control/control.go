package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/config"
	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/provider"
	redisclient "github.com/dcava30/Talenti-MVP-sub000/internal/infra/redis"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/resilience"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage/memory"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage/postgres"
	"github.com/dcava30/Talenti-MVP-sub000/internal/server"
	"github.com/dcava30/Talenti-MVP-sub000/internal/session"
)

// App is the main application struct that wires storage, providers, the
// session router and the HTTP surface, and manages their lifecycle.
type App struct {
	cfg config.AppConfig

	interviews  storage.InterviewRepository
	transcripts storage.TranscriptRepository
	db          *postgres.DB
	redisClient *redisclient.Client

	guards  map[string]*provider.Guard
	clients *provider.Clients

	router     *session.Router
	httpServer *server.Server
	commands   *resilience.Limiter
	webhook    *resilience.Limiter

	callbackURL string
	log         *slog.Logger

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

// NewApp creates an App with all dependencies initialized.
func NewApp(cfg config.AppConfig) (*App, error) {
	log := slog.Default()

	// 1. Storage
	var interviews storage.InterviewRepository
	var transcripts storage.TranscriptRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Goose needs the raw *sql.DB that sqlx wraps.
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		interviews = postgres.NewInterviewRepo(db)
		transcripts = postgres.NewTranscriptRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		interviews = memory.NewInterviewRepo(store)
		transcripts = memory.NewTranscriptRepo(store)
		log.Info("Using Memory storage")
	}

	// 2. Webhook dedup
	var dedup session.DedupStore
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, using in-memory dedup", "error", err)
			dedup = session.NewMemoryDedup(cfg.Redis.DedupTTL)
		} else {
			dedup = redisClient
			log.Info("Using Redis webhook dedup")
		}
	} else {
		dedup = session.NewMemoryDedup(cfg.Redis.DedupTTL)
	}

	// 3. Provider clients, one guard per dependency
	guards := map[string]*provider.Guard{
		provider.DepSpeech: provider.NewGuard(provider.DepSpeech, cfg.Guards.Speech),
		provider.DepAI:     provider.NewGuard(provider.DepAI, cfg.Guards.AI),
		provider.DepCall:   provider.NewGuard(provider.DepCall, cfg.Guards.Call),
		provider.DepBlob:   provider.NewGuard(provider.DepBlob, cfg.Guards.Blob),
	}
	clients := &provider.Clients{
		Speech: provider.NewWSSpeechClient(cfg.Providers.Speech, guards[provider.DepSpeech]),
		AI:     provider.NewHTTPAIClient(cfg.Providers.AI, guards[provider.DepAI]),
		Call:   provider.NewHTTPCallClient(cfg.Providers.Call, guards[provider.DepCall]),
		Blob:   provider.NewHTTPBlobClient(cfg.Providers.Blob, guards[provider.DepBlob]),
	}

	// 4. Session router and HTTP surface
	router := session.NewRouter(dedup, log)
	commands := resilience.NewLimiter("commands", cfg.Limits.Commands)
	webhook := resilience.NewLimiter("webhook", cfg.Limits.Webhook)

	app := &App{
		cfg:         cfg,
		interviews:  interviews,
		transcripts: transcripts,
		db:          db,
		redisClient: redisClient,
		guards:      guards,
		clients:     clients,
		router:      router,
		commands:    commands,
		webhook:     webhook,
		callbackURL: strings.TrimRight(cfg.Server.PublicURL, "/") + cfg.Server.WebhookPath,
		log:         log,
	}

	app.httpServer = server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		WebhookPath: cfg.Server.WebhookPath,
	}, app, commands, webhook, log)

	return app, nil
}

// Start starts the HTTP server and background workers.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx, a.cancel = context.WithCancel(ctx)
	a.started = true
	a.mu.Unlock()

	go a.commands.Run(a.runCtx)
	go a.webhook.Run(a.runCtx)

	go func() {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()

	a.log.Info("App started", "port", a.cfg.Server.Port, "callback_url", a.callbackURL)
	return nil
}

// Stop shuts down the HTTP server, waits briefly for active sessions to
// drain, and closes external connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Warn("HTTP server shutdown", "error", err)
	}

	// Cancelling the run context makes every session worker drain to a
	// terminal state on its bounded shutdown path.
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.awaitSessions(ctx)

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
	return nil
}

func (a *App) awaitSessions(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for a.router.Active() > 0 {
		select {
		case <-ctx.Done():
			a.log.Warn("Shutdown deadline reached with sessions active",
				"active", a.router.Active())
			return
		case <-ticker.C:
		}
	}
}

// StartInterview loads the interview record, validates it can go live, and
// spins up its session worker. The returned manager has not yet received
// the start command.
func (a *App) StartInterview(ctx context.Context, interviewID string) (*session.Manager, error) {
	a.mu.Lock()
	runCtx := a.runCtx
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("not accepting sessions")
	}

	iv, err := a.interviews.Get(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	switch iv.Status {
	case domain.InterviewCompleted, domain.InterviewFailed:
		return nil, fmt.Errorf("interview %s is already %s", interviewID, iv.Status)
	}

	m := session.NewManager(session.Config{
		Interview:       iv,
		CallbackURL:     a.callbackURL,
		Providers:       a.clients,
		Interviews:      a.interviews,
		Transcripts:     a.transcripts,
		SystemPrompt:    a.cfg.Session.SystemPrompt,
		QueueSize:       a.cfg.Session.QueueSize,
		RecordingLinger: a.cfg.Session.RecordingLinger,
		Log:             a.log,
	})
	// Registration is the single admission point: of two racing starts for
	// the same interview only one gets past here, so only one worker runs
	// and only one provider call is placed.
	if !a.router.Register(m) {
		return nil, fmt.Errorf("interview %s already has an active session", interviewID)
	}

	go func() {
		if err := m.Run(runCtx); err != nil && err != context.Canceled {
			a.log.Error("Session worker exited with error", "session", m.ID(), "error", err)
		}
		a.router.Remove(m.ID())
	}()

	return m, nil
}

// Get looks up an active session.
func (a *App) Get(interviewID string) (*session.Manager, bool) {
	return a.router.Get(interviewID)
}

// Route delivers an inbound provider event to its session.
func (a *App) Route(ctx context.Context, ev domain.ProviderEvent) {
	a.router.Route(ctx, ev)
}

// Snapshots returns a view of every active session.
func (a *App) Snapshots() []domain.SessionSnapshot {
	return a.router.Snapshots()
}

// BreakerSnapshots returns the state of every dependency breaker.
func (a *App) BreakerSnapshots() []resilience.BreakerSnapshot {
	out := make([]resilience.BreakerSnapshot, 0, len(a.guards))
	for _, name := range []string{provider.DepCall, provider.DepSpeech, provider.DepAI, provider.DepBlob} {
		out = append(out, a.guards[name].Breaker().Snapshot())
	}
	return out
}
