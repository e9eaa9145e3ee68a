package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2dverse/relay/internal/config"
	"github.com/2dverse/relay/internal/mq"
	"github.com/2dverse/relay/internal/registry"
	"github.com/2dverse/relay/internal/ws"
	"github.com/2dverse/relay/pkg/event"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

/*
run initializes all components, manages the server lifecycle, and centralizes
error reporting so every defer executes before the process exits.
*/
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	var pub mq.Publisher = mq.NopPublisher{}
	if cfg.RabbitURL != "" {
		d, err := mq.Dial(cfg.RabbitURL)
		if err != nil {
			return fmt.Errorf("cannot connect to RabbitMQ: %w", err)
		}
		defer d.Release()

		p, err := mq.NewPresencePublisher(d)
		if err != nil {
			return fmt.Errorf("cannot open a presence publisher: %w", err)
		}
		defer p.Close()
		pub = p
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	hub := ws.NewHub(log, reg, pub, ws.Options{
		DefaultSpace:        cfg.DefaultSpace,
		RejoinPosition:      event.Position{X: cfg.RejoinX, Y: cfg.RejoinY},
		EvictionInterval:    cfg.EvictionInterval,
		InactivityThreshold: cfg.InactivityThreshold,
	})
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleConnection)
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	})

	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		log.Info("relay listening", "addr", cfg.Addr, "defaultSpace", cfg.DefaultSpace)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
