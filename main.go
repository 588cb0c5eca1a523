package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmabot/config"
	"pharmabot/hardware"
	"pharmabot/pkg/logger"
	"pharmabot/repository"
	"pharmabot/robot"
	"pharmabot/server"
	"pharmabot/srvreg"
)

var (
	configPath   string
	httpPort     string
	postgresHost string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to the config file")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides config)")
	flag.StringVar(&postgresHost, "postgres-host", "", "DB host address (overrides config)")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	if httpPort != "" {
		cfg.HTTPPort = httpPort
	}
	if postgresHost != "" {
		cfg.PostgresHost = postgresHost
	}

	logg := logger.New(cfg.LogLevel, cfg.LogFormat)

	// Connect Postgresql DB
	repo := repository.NewRepository(logg)
	logg.Info("Connecting to database", "host", cfg.PostgresHost)
	if err := repo.ConnectDB(cfg.DSN()); err != nil {
		log.Fatalf("Connecting to database: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		log.Fatalf("Migrating database: %v", err)
	}
	if err := repo.Seed(cfg.FleetSize); err != nil {
		log.Fatalf("Seeding database: %v", err)
	}

	// Fleet gateway and robot controller
	gateway := hardware.NewGateway(cfg.Hardware, logg)
	primaryAddr := cfg.PrimaryNodeAddr
	if primaryAddr == "" {
		if node, dbErr := repo.GetNode(1); dbErr == nil {
			primaryAddr = node.Addr()
		}
	}
	controller := robot.NewController(gateway, primaryAddr, cfg.StandbyDelay, logg)

	// Autopick orchestrator
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orchestrator := robot.NewOrchestrator(repo, controller, cfg.TickInterval, cfg.MaxPickAttempts, logg)
	orchestrator.Start(ctx)

	// Initialize Service Registry
	serviceRegistry := srvreg.NewServiceRegistry(repo, controller, gateway, orchestrator, logg)
	serviceRegistry.RegisterDefaultServices()

	// Start Web Server
	webserver := server.NewWebServer(cfg.HTTPPort, logg, serviceRegistry, controller)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := webserver.Shutdown(shutdownCtx); err != nil {
		logg.Error("Shutting down HTTP web server", "error", err)
	}
	logg.Info("HTTP web server gracefully stopped")
}
