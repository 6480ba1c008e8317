package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discharge_tester/internal/config"
	"discharge_tester/internal/discharge"
	"discharge_tester/internal/handlers"
	"discharge_tester/internal/hardware"
	"discharge_tester/internal/logger"
	"discharge_tester/internal/repository"
	"discharge_tester/internal/repository/db"
	"discharge_tester/internal/server"
	"discharge_tester/internal/service"
	"discharge_tester/internal/telemetry"

	"github.com/google/uuid"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// load configs/config.yml + DISCHARGE_* env
	cfg, err := config.Load("configs")
	if err != nil {
		logger.Get(logger.InfoLevel, "").Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.Log.Level, cfg.Log.File)
	defer func() { _ = log.Sync() }()

	if cfg.Auth.SigningKey == "" {
		cfg.Auth.SigningKey = uuid.NewString()
		log.Warnw("auth.signing_key not set; tokens will not survive a restart")
	}

	// open DB
	conn, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err, "path", cfg.DB.Path)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	pub, err := telemetry.New(telemetry.Config{
		Broker:   cfg.MQTT.Broker,
		Topic:    cfg.MQTT.Topic,
		ClientID: cfg.MQTT.ClientID,
	})
	if err != nil {
		log.Fatalw("failed to connect mqtt broker", "err", err, "broker", cfg.MQTT.Broker)
	}
	defer pub.Close()

	// wire dependencies
	repos := repository.NewRepository(conn)
	services := service.NewService(repos, service.Deps{
		Config:    cfg,
		Log:       log,
		Link:      newLink(cfg),
		Publisher: pub,
	})
	apiHandler := handlers.NewHandler(services, log)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)
	log.Infow("discharge controller started", "port", cfg.Port, "link", cfg.Link.Mode, "cells", cfg.Test.Cells)

	// graceful shutdown
	waitForShutdown(services, srv, log)
}

// newLink returns the serial link when the bench is real hardware.
func newLink(cfg config.Config) discharge.HardwareLink {
	if cfg.Link.Mode != config.LinkSerial {
		return nil
	}
	return hardware.NewSerialLink(hardware.Config{
		Port:        cfg.Link.Port,
		Baud:        cfg.Link.Baud,
		ReadTimeout: cfg.Link.Timeout,
	})
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals, aborts the active run and
// stops the server.
func waitForShutdown(services *service.Service, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// the active run goes to emergency and is stored before the DB closes
	if err := services.Shutdown(ctx); err != nil {
		log.Errorw("run did not stop in time", "err", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
