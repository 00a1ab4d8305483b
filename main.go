package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jordanhubbard/spindle/internal/api"
	"github.com/jordanhubbard/spindle/internal/auth"
	"github.com/jordanhubbard/spindle/internal/cache"
	"github.com/jordanhubbard/spindle/internal/events"
	"github.com/jordanhubbard/spindle/internal/gate"
	"github.com/jordanhubbard/spindle/internal/knowledge"
	"github.com/jordanhubbard/spindle/internal/lessons"
	"github.com/jordanhubbard/spindle/internal/logging"
	"github.com/jordanhubbard/spindle/internal/metrics"
	"github.com/jordanhubbard/spindle/internal/orchestrator"
	"github.com/jordanhubbard/spindle/internal/provider"
	"github.com/jordanhubbard/spindle/internal/queue"
	"github.com/jordanhubbard/spindle/internal/remote"
	"github.com/jordanhubbard/spindle/internal/router"
	"github.com/jordanhubbard/spindle/internal/skills"
	"github.com/jordanhubbard/spindle/internal/storage"
	"github.com/jordanhubbard/spindle/internal/telemetry"
	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/config"
	"github.com/jordanhubbard/spindle/pkg/models"
)

func main() {
	fmt.Println("Spindle - AI Task Orchestrator")
	fmt.Println("==============================")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config from %s: %v", configPath, err)
		log.Printf("Using default configuration")
		cfg = config.Default()
	} else {
		log.Printf("Loaded configuration from %s", configPath)
	}

	if err := run(cfg, configPath); err != nil {
		log.Fatalf("Spindle failed: %v", err)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx := context.Background()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Printf("Warning: telemetry init failed: %v", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Printf("Warning: telemetry shutdown failed: %v", err)
				}
			}()
		}
	}

	// Storage (lesson persistence + task archive + persisted logs)
	var store *storage.Postgres
	var lessonStore lessons.Store
	if cfg.Storage.Enabled {
		pg, err := storage.NewPostgres(cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer pg.Close()
		store = pg
		lessonStore = pg
		log.Printf("[Main] Postgres storage connected")
	}

	// Logging manager; the interceptor routes log.Printf output into the
	// ring buffer (and Postgres when configured) for /api/v1/logs.
	logMgr := newLogManager(store)

	// Lessons, cache, knowledge
	lessonMgr := lessons.NewManager(lessonStore, cfg.Lessons.MaxEntries)
	defer lessonMgr.Close()

	var cacheBackend cache.Backend
	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case "redis":
			rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL)
			if err != nil {
				return fmt.Errorf("redis cache: %w", err)
			}
			cacheBackend = rc
			log.Printf("[Main] Redis answer cache connected")
		default:
			cacheBackend = cache.NewMemoryCache(cfg.Cache.MaxSize)
		}
	}

	kb := knowledge.NewMemoryBase(0)

	// Skills
	skillReg := skills.NewRegistry()
	skillReg.Register(&skills.ClockSkill{})

	// Workers
	workerReg := worker.NewRegistry(cfg.Queue.BackendTimeout)
	var temporalClient *remote.Client
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}

		var inv worker.Invoker
		switch p.Type {
		case "openai", "":
			inv = provider.NewOpenAIInvoker(p.Endpoint, p.APIKey, p.Model)
		case "temporal":
			if !cfg.Temporal.Enabled {
				log.Printf("[Main] Provider %s wants temporal but temporal is disabled; skipping", p.ID)
				continue
			}
			if temporalClient == nil {
				tc, err := remote.NewClient(cfg.Temporal)
				if err != nil {
					return fmt.Errorf("temporal: %w", err)
				}
				defer tc.Close()
				temporalClient = tc

				// Run the activity worker in-process; the delegate does
				// the actual backend call when the workflow dispatches here.
				delegate := provider.NewOpenAIInvoker(p.Endpoint, p.APIKey, p.Model)
				workerStop := make(chan interface{})
				defer close(workerStop)
				go func() {
					if err := remote.RunWorker(tc, delegate, workerStop); err != nil {
						log.Printf("[Main] %v", err)
					}
				}()
			}
			inv = remote.NewInvoker(temporalClient)
		default:
			log.Printf("[Main] Unknown provider type %q for %s; skipping", p.Type, p.ID)
			continue
		}

		for _, role := range p.Roles {
			workerReg.Register(role, inv)
			log.Printf("[Main] Registered %s worker for role %q (%s)", p.Type, role, p.ID)
		}
	}

	// Events
	bus := events.NewBus()
	if cfg.Events.NATSEnabled {
		bridge, err := events.NewNATSBridge(bus, cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			log.Printf("Warning: NATS bridge unavailable: %v", err)
		} else {
			defer bridge.Close()
		}
	}

	// Archive terminal tasks fire-and-forget
	q := queue.NewManager(cfg.Queue, &models.QueueState{})

	orch := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Queue:     q,
		Gate:      gate.New(lessonMgr, cacheBackend, skillReg, cfg.Gate),
		Router:    router.New(cfg.Flows),
		Workers:   workerReg,
		Skills:    skillReg,
		Knowledge: kb,
		Lessons:   lessonMgr,
		Cache:     cacheBackend,
		Bus:       bus,
		Metrics:   metrics.NewMetrics(),
	})

	if store != nil {
		archiveTerminalTasks(bus, orch, store)
	}

	orch.Start()
	defer orch.Stop()

	// Hot reload
	if cfg.HotReload.Enabled {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			orch.ApplyConfig(next)
		})
		if err != nil {
			log.Printf("Warning: config watcher unavailable: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	// HTTP API
	authMgr := auth.NewManager(cfg.Security.JWTSecret)
	apiServer := api.NewServer(orch, authMgr, logMgr, workerReg, skillReg, cfg)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      apiServer.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Main] HTTP API listening on :%d", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.Printf("[Main] Received %s, shutting down", sig)
	}

	stopped := orch.EmergencyStop()
	log.Printf("[Main] Emergency stop aborted %d tasks", stopped)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	return nil
}

// newLogManager wires the logging manager to Postgres when available and
// routes the standard log package through it.
func newLogManager(store *storage.Postgres) *logging.Manager {
	var logMgr *logging.Manager
	if store != nil {
		logMgr = logging.NewManager(store.DB())
	} else {
		logMgr = logging.NewManager(nil)
	}

	// Keep console output; the interceptor would otherwise swallow it.
	logMgr.AddHandler(func(e logging.LogEntry) {
		fmt.Fprintf(os.Stderr, "%s [%s] %s: %s\n",
			e.Timestamp.Format(time.RFC3339), e.Level, e.Source, e.Message)
	})
	logMgr.InstallLogInterceptor()
	return logMgr
}

// archiveTerminalTasks persists every finished task to the Postgres
// archive. Failures are logged and never affect the task outcome.
func archiveTerminalTasks(bus *events.Bus, orch *orchestrator.Orchestrator, store *storage.Postgres) {
	archive := func(evt events.Event) {
		task, ok := orch.Task(evt.TaskID)
		if !ok {
			return
		}
		go func() {
			if err := store.ArchiveTask(&task); err != nil {
				log.Printf("[Main] Failed to archive task %s: %v", task.ID, err)
			}
		}()
	}
	bus.Subscribe(events.TypeTaskCompleted, archive)
	bus.Subscribe(events.TypeTaskFailed, archive)
	bus.Subscribe(events.TypeTaskAborted, archive)
}
