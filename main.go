package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/lanward/lanward/internal/api"
	"github.com/lanward/lanward/internal/config"
	"github.com/lanward/lanward/internal/database"
	"github.com/lanward/lanward/internal/logging"
	"github.com/lanward/lanward/internal/pinger"
	"github.com/lanward/lanward/internal/probe"
	"github.com/lanward/lanward/internal/registry"
	"github.com/lanward/lanward/internal/relay"
	"github.com/lanward/lanward/internal/snapshot"
)

func main() {
	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	ctx := context.Background()

	factory := selectRelayFactory(ctx)
	sup := relay.NewSupervisor(factory, relay.Options{
		Bind:     config.Cfg.BindAddress,
		BindPort: config.Cfg.BindPort,
		IPv6:     config.Cfg.IPv6,
	})

	store := database.NewStore(database.DB)
	reg := registry.New(store, sup, config.Cfg.StartTimeout)

	sched := pinger.New(reg, probe.NewClient(config.Cfg.PingTimeout), config.Cfg.PingInterval)
	reg.SetWaker(sched)
	sched.Start(ctx)

	reg.Initialize(ctx)

	if config.Cfg.ImportPath != "" {
		if err := importServers(ctx, reg, config.Cfg.ImportPath); err != nil {
			log.Printf("WARNING: import from %s: %v", config.Cfg.ImportPath, err)
		}
	}

	backup := startBackupJob(reg)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	h := &api.Handler{Registry: reg, Relays: sup}
	r.Route("/api/v1", h.Routes)

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	if backup != nil {
		backup.Stop()
	}
	sched.Stop()
	reg.Shutdown()
	sup.Shutdown(shutdownCtx)

	log.Println("Server stopped")
}

// selectRelayFactory picks the relay backend. "auto" prefers Docker when
// the daemon answers, falling back to the phantom binary.
func selectRelayFactory(ctx context.Context) relay.Factory {
	cfg := config.Cfg

	docker := func() (relay.Factory, error) {
		return relay.DockerFactory(ctx, cfg.DockerHost, cfg.RelayImage, cfg.RelayMemoryLimit)
	}

	switch cfg.RelayBackend {
	case "docker":
		f, err := docker()
		if err != nil {
			log.Fatalf("Relay backend docker: %v", err)
		}
		return f
	case "process":
		return relay.ProcessFactory(cfg.RelayCommand)
	default:
		if f, err := docker(); err == nil {
			return f
		} else {
			log.Printf("Docker unavailable, using process relay backend: %v", err)
		}
		return relay.ProcessFactory(cfg.RelayCommand)
	}
}

// importServers seeds the registry from a YAML file. Entries whose ID or
// name already exists are skipped so a seed file can stay in place across
// restarts.
func importServers(ctx context.Context, reg *registry.Registry, path string) error {
	entries, err := snapshot.Import(path)
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	for _, srv := range reg.Snapshot() {
		existing[srv.ID] = true
	}

	imported := 0
	for _, e := range entries {
		if e.ID != "" && existing[e.ID] {
			continue
		}
		spec := registry.AddSpec{
			ID:        e.ID,
			Name:      e.Name,
			Address:   e.Address,
			Port:      e.Port,
			AutoStart: e.AutoStartValue(),
		}
		if spec.ID == "" {
			spec.ID = spec.Name
		}
		if existing[spec.ID] {
			continue
		}
		if _, err := reg.Add(ctx, spec); err != nil {
			log.Printf("Import: skipping %s: %v", spec.ID, err)
			continue
		}
		imported++
	}
	log.Printf("Imported %d servers from %s", imported, path)
	return nil
}

// startBackupJob exports the server list on the configured cron schedule.
func startBackupJob(reg *registry.Registry) *cron.Cron {
	if config.Cfg.BackupSchedule == "" {
		return nil
	}

	path := filepath.Join(config.Cfg.DataPath, "servers-backup.yaml")
	c := cron.New()
	_, err := c.AddFunc(config.Cfg.BackupSchedule, func() {
		if err := snapshot.Export(path, reg.Snapshot()); err != nil {
			log.Printf("Backup export: %v", err)
		}
	})
	if err != nil {
		log.Printf("WARNING: invalid backup schedule %q: %v", config.Cfg.BackupSchedule, err)
		return nil
	}
	c.Start()
	return c
}
