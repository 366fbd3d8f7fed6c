// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bidmarket/bidmarket-backend/internal/config"
	"github.com/bidmarket/bidmarket-backend/internal/database"
	"github.com/bidmarket/bidmarket-backend/internal/events"
	"github.com/bidmarket/bidmarket-backend/internal/router"
	"github.com/bidmarket/bidmarket-backend/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	if cfg.Environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	// Event fan-out: the log sink is always on, Redis and NATS attach
	// when configured.
	publisher := buildPublisher(cfg.Events)
	defer publisher.Close()

	// Initialize router and service graph
	r, auctionService := router.Initialize(db, cfg, publisher)

	// Expiry sweeper: moves lots past their end time into the ended
	// state. Each tick is idempotent, so restarts are safe.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go runSweeper(sweepCtx, auctionService, cfg.Auction)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}

func buildPublisher(cfg config.EventsConfig) events.Publisher {
	sinks := []events.Publisher{events.NewLogSink()}

	if cfg.RedisAddr != "" {
		sink, err := events.NewRedisSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logrus.WithError(err).Warn("Redis sink disabled")
		} else {
			sinks = append(sinks, sink)
		}
	}

	if cfg.NATSUrl != "" {
		sink, err := events.NewNATSSink(cfg.NATSUrl, cfg.StreamName)
		if err != nil {
			logrus.WithError(err).Warn("NATS sink disabled")
		} else {
			sinks = append(sinks, sink)
		}
	}

	return events.NewFanout(sinks...)
}

func runSweeper(ctx context.Context, auctions *services.AuctionService, cfg config.AuctionConfig) {
	interval := time.Duration(cfg.SweepInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := auctions.SweepExpiredAuctions(time.Now()); err != nil {
				logrus.WithError(err).Error("Auction sweep failed")
			}
		}
	}
}
