// Package control wires the narration components into a runnable application.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/vietddude/narrator/internal/core/config"
	"github.com/vietddude/narrator/internal/core/domain"
	redisclient "github.com/vietddude/narrator/internal/infra/redis"
	"github.com/vietddude/narrator/internal/infra/rpc/keypool"
	"github.com/vietddude/narrator/internal/infra/rpc/provider"
	"github.com/vietddude/narrator/internal/infra/rpc/routing"
	"github.com/vietddude/narrator/internal/infra/storage"
	"github.com/vietddude/narrator/internal/infra/storage/memory"
	"github.com/vietddude/narrator/internal/infra/storage/postgres"
	"github.com/vietddude/narrator/internal/narration/batch"
	"github.com/vietddude/narrator/internal/narration/health"
	"github.com/vietddude/narrator/internal/narration/metrics"
	"github.com/vietddude/narrator/internal/narration/recovery"
	"github.com/vietddude/narrator/internal/narration/script"
	"github.com/vietddude/narrator/internal/narration/watcher"
)

// Config holds the application configuration.
type Config struct {
	Port           int
	Keys           []string
	IdentityPrefix int
	Gemini         config.GeminiConfig
	Executor       config.ExecutorConfig
	Batch          config.BatchConfig
	Watch          config.WatchConfig
	Redis          redisclient.Config
	Database       postgres.Config
}

// ConfigFrom transforms the loaded file configuration.
func ConfigFrom(cfg *config.AppConfig) Config {
	return Config{
		Port:           cfg.Server.Port,
		Keys:           cfg.APIKeys(),
		IdentityPrefix: cfg.Credentials.IdentityPrefix,
		Gemini:         cfg.Gemini,
		Executor:       cfg.Executor,
		Batch:          cfg.Batch,
		Watch:          cfg.Watch,
		Redis:          cfg.Redis,
		Database:       cfg.Database,
	}
}

// Narrator is the main application struct.
type Narrator struct {
	cfg          Config
	pool         *keypool.Pool
	orch         *batch.Orchestrator
	runRepo      storage.RunRepository
	failedRepo   storage.FailedItemRepository
	recovery     *recovery.Handler
	healthMon    *health.Monitor
	healthServer *health.Server
	sink         *ArtifactSink
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger

	mu     sync.Mutex
	source string
}

// NewNarrator creates the application. A nil synth selects the Gemini speech model.
func NewNarrator(cfg Config, synth provider.Synthesizer) (*Narrator, error) {
	log := slog.Default()

	// 1. Initialize Storage
	var runRepo storage.RunRepository
	var failedRepo storage.FailedItemRepository
	var db *postgres.DB
	var redisClient *redisclient.Client
	store := memory.NewMemoryStorage()

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
		runRepo = postgres.NewRunRepo(db)
		log.Info("Using PostgreSQL run store")
	} else {
		runRepo = memory.NewRunRepo(store)
	}

	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, using in-memory failed queue", "error", err)
		} else {
			failedRepo = redisclient.NewFailedItemRepo(redisClient)
		}
	}
	if failedRepo == nil {
		failedRepo = memory.NewFailedRepo(store)
	}

	// 2. Credential pool and executor
	pool := keypool.New(cfg.Keys, keypool.WithIdentityPrefix(cfg.IdentityPrefix))
	remote := provider.NewMonitor()
	exec := routing.NewExecutor(pool,
		routing.WithMaxWait(cfg.Executor.MaxWait),
		routing.WithObserver(routing.Observers(metrics.Observer{}, remote)),
	)

	if synth == nil {
		synth = provider.NewGeminiSynthesizer(cfg.Gemini.Timeout, log)
	}

	n := &Narrator{
		cfg:         cfg,
		pool:        pool,
		runRepo:     runRepo,
		failedRepo:  failedRepo,
		sink:        NewArtifactSink(cfg.Batch.OutputDir),
		db:          db,
		redisClient: redisClient,
		log:         log,
	}

	// 3. Orchestrator
	n.orch = batch.New(exec, pool, synth,
		batch.Config{
			MaxRetries: cfg.Executor.Retries(),
			Pacing:     cfg.Batch.Pacing,
			Params: provider.Params{
				Model:        cfg.Gemini.Model,
				Voice:        cfg.Gemini.Voice,
				LanguageCode: cfg.Gemini.LanguageCode,
				Style:        cfg.Gemini.Style,
			},
		},
		batch.WithItemCallback(n.onItem),
		batch.WithRunCallback(n.onRun),
	)

	// 4. Recovery
	var opts []recovery.Option
	if redisClient != nil {
		opts = append(opts, recovery.WithLocker(redisClient))
	}
	n.recovery = recovery.NewHandler(failedRepo, n.orch, recovery.DefaultBackoff(nil), opts...)

	// 5. Health
	n.healthMon = health.NewMonitor(pool, n.orch, failedRepo)
	n.healthMon.SetRemoteStats(remote)
	n.healthServer = health.NewServer(n.healthMon, cfg.Port)

	return n, nil
}

// Pool returns the credential pool.
func (n *Narrator) Pool() *keypool.Pool { return n.pool }

// Orchestrator returns the batch orchestrator.
func (n *Narrator) Orchestrator() *batch.Orchestrator { return n.orch }

// RunScript loads a script file and runs it.
func (n *Narrator) RunScript(ctx context.Context, path string) (domain.Summary, error) {
	lines, err := script.Load(path)
	if err != nil {
		return domain.Summary{}, err
	}
	return n.Run(ctx, filepath.Base(path), lines)
}

// Run processes lines as a new run.
func (n *Narrator) Run(ctx context.Context, source string, lines []domain.ScriptLine) (domain.Summary, error) {
	n.mu.Lock()
	n.source = source
	n.mu.Unlock()
	return n.orch.RunAll(ctx, lines)
}

func (n *Narrator) onRun(run domain.Run) {
	n.mu.Lock()
	run.Source = n.source
	n.mu.Unlock()

	if err := n.runRepo.CreateRun(context.Background(), &run); err != nil {
		n.log.Error("Failed to save run", "run_id", run.ID, "error", err)
	}
}

func (n *Narrator) onItem(runID string, index int, line domain.ScriptLine, st domain.ItemStatus) {
	metrics.RecordItem(st)
	ctx := context.Background()

	rec := &domain.ItemRecord{
		RunID:     runID,
		Index:     index,
		Text:      line.Text,
		State:     st.State,
		Message:   st.Message,
		UpdatedAt: st.UpdatedAt,
	}

	switch st.State {
	case domain.ItemSucceeded:
		path, err := n.sink.Write(runID, index, st.Artifact)
		if err != nil {
			n.log.Error("Failed to write artifact", "run_id", runID, "index", index, "error", err)
		}
		rec.ArtifactPath = path
		if err := n.recovery.HandleSuccess(ctx, runID, index); err != nil {
			n.log.Warn("Failed to resolve queued item", "run_id", runID, "index", index, "error", err)
		}

	case domain.ItemFailed:
		if !st.RetryAt.IsZero() {
			retryAt := st.RetryAt
			rec.RetryAt = &retryAt
		}
		if err := n.recovery.HandleFailure(ctx, runID, index, line, st); err != nil {
			n.log.Warn("Failed to queue item", "run_id", runID, "index", index, "error", err)
		}

	default:
		return
	}

	if err := n.runRepo.SaveItem(ctx, rec); err != nil {
		n.log.Error("Failed to save item", "run_id", runID, "index", index, "error", err)
	}
}

// Start starts the health server, the recovery worker and the script watcher.
func (n *Narrator) Start(ctx context.Context) error {
	go func() {
		if err := n.healthServer.Start(); err != nil {
			n.log.Error("Health server failed", "error", err)
		}
	}()

	go recovery.NewWorker(n.recovery, n.cfg.Watch.RecoveryInterval).Start(ctx)

	if n.cfg.Watch.Dir != "" {
		w, err := watcher.New(n.cfg.Watch.Dir, func(ctx context.Context, path string) error {
			_, err := n.RunScript(ctx, path)
			return err
		}, n.log)
		if err != nil {
			return fmt.Errorf("failed to start script watcher: %w", err)
		}
		go func() {
			defer w.Stop()
			if err := w.Start(ctx); err != nil && ctx.Err() == nil {
				n.log.Error("Script watcher failed", "error", err)
			}
		}()
	}

	n.log.Info("Narrator started", "port", n.cfg.Port, "credentials", n.pool.Len())
	return nil
}

// Stop stops the health server and closes connections.
func (n *Narrator) Stop(ctx context.Context) error {
	if err := n.healthServer.Stop(ctx); err != nil {
		n.log.Error("Failed to stop health server", "error", err)
	}
	return n.Close()
}

// Close releases storage connections.
func (n *Narrator) Close() error {
	if n.redisClient != nil {
		if err := n.redisClient.Close(); err != nil {
			n.log.Error("Failed to close redis", "error", err)
		}
	}
	if n.db != nil {
		return n.db.Close()
	}
	return nil
}

// HealthReport returns the current health report.
func (n *Narrator) HealthReport(ctx context.Context) health.Report {
	return n.healthMon.CheckHealth(ctx)
}

// RetryFailed retries every failed item of the current run once.
func (n *Narrator) RetryFailed(ctx context.Context) (domain.Summary, error) {
	board := n.orch.Snapshot()
	for _, item := range board.Items {
		if item.Status.State != domain.ItemFailed {
			continue
		}
		if wait := time.Until(item.Status.RetryAt); wait > 0 {
			n.log.Info("Waiting for credentials", "index", item.Index, "wait", wait.Round(time.Second))
			if err := routing.SleepWithContext(ctx, wait); err != nil {
				return n.orch.Summary(), err
			}
		}
		if _, err := n.orch.RetryOne(ctx, item.Index); err != nil {
			return n.orch.Summary(), err
		}
	}
	return n.orch.Summary(), nil
}
