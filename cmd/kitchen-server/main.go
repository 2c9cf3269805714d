package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/a-h/templ"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitchensync/project/internal/app/board"
	"github.com/kitchensync/project/internal/app/chat"
	"github.com/kitchensync/project/internal/app/gateway"
	"github.com/kitchensync/project/internal/app/identity"
	"github.com/kitchensync/project/internal/blobstore"
	"github.com/kitchensync/project/internal/broadcast"
	"github.com/kitchensync/project/internal/contracts"
	"github.com/kitchensync/project/internal/feed"
	"github.com/kitchensync/project/internal/platform/dbpool"
	"github.com/kitchensync/project/internal/platform/env"
	"github.com/kitchensync/project/internal/platform/httpmetrics"
	"github.com/kitchensync/project/internal/platform/natsutil"
	"github.com/kitchensync/project/internal/store"
	"github.com/kitchensync/project/internal/store/postgres"
	"github.com/kitchensync/project/internal/store/supabasestore"
	"github.com/kitchensync/project/services/frontend"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverAddr := env.String("SERVER_ADDR", env.DefaultServerAddr)
	uiOrigin := env.String("UI_ORIGIN", "http://localhost:8080")
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	jwtSecret := env.String("JWT_SECRET", "dev-insecure-change-me")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	publisher := feed.NATSPublisher{JS: client.JS}
	primary := postgres.New(pool, func(event contracts.ChangeEvent) {
		if err := publisher.Publish(event); err != nil {
			log.Printf("change publish failed for %s: %v", event.Table, err)
		}
	})
	if err := waitForSchema(runCtx, primary, 30*time.Second); err != nil {
		log.Fatal(err)
	}

	identityRepo := identity.NewPostgresRepository(pool)
	if err := waitForIdentitySchema(runCtx, identityRepo, 30*time.Second); err != nil {
		log.Fatal(err)
	}
	tokens := identity.NewTokenManager(jwtSecret)
	identitySvc := identity.NewService(identityRepo, tokens)
	profiles := identity.NewProfileCache(identityRepo)

	var legacy store.Store
	var blobs blobstore.Uploader
	if supabaseURL := env.String("SUPABASE_URL", ""); supabaseURL != "" {
		legacyStore, err := supabasestore.New(supabaseURL, env.String("SUPABASE_KEY", ""))
		if err != nil {
			log.Fatal(err)
		}
		legacy = legacyStore
		blobs = blobstore.NewSupabaseUploader(legacyStore.Client.Storage, env.String("SUPABASE_BUCKET", "kitchen-media"))
	}

	changeFeed := feed.NewNATSFeed(client.JS)
	broadcaster := broadcast.NewNATSBroadcaster(client.Conn)

	rollback := board.RollbackNever
	if env.String("MOVE_ROLLBACK", "never") == "remote" {
		rollback = board.RollbackToRemote
	}

	factory := func(ctx context.Context, principal chat.Principal) (*gateway.Workspace, error) {
		engine := board.NewEngine(primary, changeFeed)
		engine.Rollback = rollback
		engine.OnReload = httpmetrics.BoardReloads.Inc
		engine.OnPersistFailure = func(cardID string, err error) {
			httpmetrics.MovePersistFailures.Inc()
			log.Printf("move persist failed for card %s: %v", cardID, err)
		}
		if err := engine.Start(ctx); err != nil {
			return nil, err
		}

		session := chat.NewSession(primary, changeFeed, broadcaster, principal)
		session.Legacy = legacy
		session.Blobs = blobs
		session.Profiles = profiles
		session.OnDelivered = func(target string) {
			httpmetrics.MessagesSent.WithLabelValues(target).Inc()
		}
		if err := session.Init(ctx); err != nil {
			engine.Stop()
			return nil, err
		}
		if channels := session.Channels(ctx); len(channels) > 0 {
			if err := session.SelectChannel(ctx, channels[0]); err != nil {
				log.Printf("initial channel select failed: %v", err)
			}
		}

		return &gateway.Workspace{Engine: engine, Chat: session}, nil
	}

	registry := gateway.NewRegistry(factory)
	handler := gateway.NewHandler(identitySvc, tokens, registry, uiOrigin)

	api := handler.Router()
	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api)
	mux.Handle("/events", api)
	mux.Handle("/", templ.Handler(frontend.LoginPage()))
	mux.Handle("/app", templ.Handler(frontend.BoardPage()))
	mux.Handle("/static/", http.StripPrefix("/static/", frontend.StaticHandler()))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checkReadiness(r.Context(), pool, client.Conn); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              serverAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Kitchen server listening on %s\n", serverAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	registry.CloseAll(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("kitchen-server graceful shutdown failed: %v", err)
	}
}

func waitForSchema(ctx context.Context, st *postgres.Store, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = st.EnsureSchema(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for schema readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func waitForIdentitySchema(ctx context.Context, repo *identity.PostgresRepository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repo.EnsureSchema(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for identity schema readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, conn *nats.Conn) error {
	if conn == nil || !conn.IsConnected() {
		return errors.New("nats connection is not ready")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return pool.Ping(pingCtx)
}
