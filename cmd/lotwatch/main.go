package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lotwatch/lotwatch/internal/api"
	"github.com/lotwatch/lotwatch/internal/browser"
	"github.com/lotwatch/lotwatch/internal/buildinfo"
	"github.com/lotwatch/lotwatch/internal/config"
	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/fetch"
	"github.com/lotwatch/lotwatch/internal/monitor"
	"github.com/lotwatch/lotwatch/internal/notify"
	"github.com/lotwatch/lotwatch/internal/rotate"
	"github.com/lotwatch/lotwatch/internal/store"
	"github.com/lotwatch/lotwatch/internal/token"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log.Printf("lotwatch %s (%s) starting", buildinfo.Version, buildinfo.GitCommit)

	if err := os.MkdirAll(envCfg.StateDir, 0o755); err != nil {
		log.Fatalf("state dir: %v", err)
	}

	// 2. Open the store and bring the schema current
	db, err := store.OpenDB(filepath.Join(envCfg.StateDir, "lotwatch.db"))
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := store.MigrateDB(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	coder, err := datelabel.NewCoder(envCfg.Timezone)
	if err != nil {
		log.Fatalf("timezone: %v", err)
	}

	repo := store.NewRepo(db, coder)
	if err := repo.SeedTargets(envCfg.TargetsFile); err != nil {
		log.Fatalf("seed targets: %v", err)
	}

	// 3. Wire the monitoring pipeline
	signer, err := token.NewSigner(envCfg.LinkSecret, envCfg.LinkTTL)
	if err != nil {
		log.Fatalf("link signer: %v", err)
	}

	mailer := &notify.SMTPMailer{
		Host:     envCfg.SMTPHost,
		Port:     envCfg.SMTPPort,
		Username: envCfg.SMTPUser,
		Password: envCfg.SMTPPassword,
		From:     envCfg.SMTPFrom,
	}
	notifier, err := notify.New(notify.Config{
		Store:        repo,
		Mailer:       mailer,
		Signer:       signer,
		Coder:        coder,
		BaseURL:      envCfg.BaseURL,
		SoftDebounce: envCfg.SoftDebounce,
	})
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}

	pool := browser.NewPool(browser.PoolConfig{
		StateDir: envCfg.StateDir,
		Cap:      envCfg.SessionCap,
		UseBound: envCfg.SessionUseBound,
	})

	fetcher := &fetch.Fetcher{
		NavTimeout:     envCfg.NavTimeout,
		ElementTimeout: envCfg.ElementTimeout,
		SettleDelay:    envCfg.SettleDelay,
	}

	strategy := envCfg.RotateStrategy
	if strategy == "auto" {
		if envCfg.TunnelAPI != "" {
			strategy = "tunnel"
		} else {
			strategy = "none"
		}
	}
	var rotator monitor.Rotator = rotate.Noop{}
	switch strategy {
	case "tunnel":
		rotator = rotate.NewTunnelRotator(envCfg.TunnelAPI, envCfg.GeoIPDB)
		log.Printf("identity rotation via tunnel API at %s", envCfg.TunnelAPI)
	case "exit":
		rotator = rotate.ExitRotator{}
		log.Printf("identity rotation via supervisor restart")
	}

	scheduler, err := monitor.New(monitor.Config{
		Store:               repo,
		Pool:                pool,
		Fetcher:             fetcher,
		Notifier:            notifier,
		Rotator:             rotator,
		Coder:               coder,
		BaseTick:            envCfg.BaseTick,
		TickJitter:          envCfg.TickJitter,
		InterGroupJitterMax: envCfg.InterGroupJitterMax,
		CooldownMin:         envCfg.CooldownMin,
		CooldownMax:         envCfg.CooldownMax,
		NewSessionSettle:    envCfg.NewSessionSettle,
	})
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	// 4. Maintenance: nightly check-log retention prune
	maintenance := cron.New()
	if _, err := maintenance.AddFunc(envCfg.RetentionSchedule, func() {
		n, err := repo.PruneCheckLogs(envCfg.CheckLogRetention, time.Now())
		if err != nil {
			log.Printf("retention: prune check logs: %v", err)
			return
		}
		if n > 0 {
			log.Printf("retention: pruned %d check log(s)", n)
		}
	}); err != nil {
		log.Fatalf("retention schedule: %v", err)
	}
	maintenance.Start()

	// 5. Start the API server and the scheduler
	srv := api.NewServer(envCfg.APIPort, repo, signer, coder, nil)
	go func() {
		log.Printf("lotwatch API server starting on :%d", envCfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	runCtx, cancelRun := context.WithCancel(context.Background())
	schedDone := make(chan error, 1)
	go func() {
		schedDone <- scheduler.Run(runCtx)
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	schedStopped := false
	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
	case err := <-schedDone:
		schedStopped = true
		if err != nil && err != context.Canceled {
			log.Printf("Scheduler stopped: %v", err)
		}
	}

	cancelRun()
	maintenance.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Wait for the scheduler to finish tearing down browser sessions.
	if !schedStopped {
		select {
		case <-schedDone:
		case <-time.After(10 * time.Second):
			log.Printf("Scheduler did not stop in time")
		}
	}
	log.Println("Server stopped")
}
