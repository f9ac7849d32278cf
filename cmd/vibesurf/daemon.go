package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/config"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/controlplane"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/credentials"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/engine/localexec"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/lifecycle"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/schedule"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/store"
)

var (
	configPath string
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the VibeSurf orchestrator daemon",
	Long:  `Starts the orchestrator daemon which provides the HTTP API for task lifecycle, schedules and profiles.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Path to YAML config file")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vibesurf.yaml"
	}
	return home + "/.vibesurf/config.yaml"
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting VibeSurf orchestrator daemon...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	eng := localexec.New(cfg.WorkDir)
	mgr := lifecycle.New(st, eng, credentials.Plaintext{}, cfg.MaxActiveTasks)
	mgr.Recover()

	sched := schedule.New(st, mgr, cfg.Tick())
	sched.Start()

	service := controlplane.NewService(st, mgr, sched)
	server := controlplane.NewServer(service, st, cfg.ListenAddr)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			sched.Stop()
			mgr.Close()
			st.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	sched.Stop()
	mgr.Close()

	log.Println("Closing database connection...")
	if err := st.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
