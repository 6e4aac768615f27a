package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-player/internal/events"
	"github.com/p-n-ai/pai-player/internal/gateway"
	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
	"github.com/p-n-ai/pai-player/internal/platform/cache"
	"github.com/p-n-ai/pai-player/internal/platform/config"
	"github.com/p-n-ai/pai-player/internal/platform/database"
	"github.com/p-n-ai/pai-player/internal/player"
	"github.com/p-n-ai/pai-player/internal/report"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	schemas, err := loadSchemas(cfg.ContentSchemaDir)
	if err != nil {
		return err
	}

	checks := map[string]checker{}
	var eventLog events.Logger = events.NopLogger{}
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return err
		}
		defer db.Close()

		pl := events.NewPostgresLogger(db.Pool)
		if err := pl.EnsureSchema(ctx); err != nil {
			return err
		}
		eventLog = pl
		checks["database"] = db
		slog.Info("event log persisted to postgres")
	}

	var guard player.Guard
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cache.Config{URL: cfg.Cache.URL})
		if err != nil {
			return err
		}
		defer c.Close()

		guard = player.NewRedisGuard(c.Client, c.Key("inflight"))
		checks["cache"] = c
		slog.Info("completion guard shared through redis")
	}

	hub := gateway.NewHub(gateway.HubConfig{
		NewAPI: func(token string) player.API {
			return lessonapi.NewClient(
				lessonapi.WithBaseURL(cfg.API.BaseURL),
				lessonapi.WithTimeout(cfg.API.Timeout),
				lessonapi.WithToken(token),
			)
		},
		Guard:          guard,
		Events:         eventLog,
		Normalizer:     lesson.NewNormalizer(schemas),
		Timings:        timings(cfg.Player),
		OriginPatterns: cfg.Server.AllowedOrigins,
	})
	defer hub.Close()

	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     newMux(hub, sessionSnapshots(hub), checks),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "api", cfg.API.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down", "sessions", hub.Count())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func loadSchemas(dir string) (*lesson.SchemaSet, error) {
	if dir == "" {
		return lesson.DefaultSchemas()
	}
	set, err := lesson.LoadSchemaDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loading content schemas from %s: %w", dir, err)
	}
	return set, nil
}

func timings(p config.PlayerConfig) player.Timings {
	return player.Timings{
		CompletionCooldown:  p.CompletionCooldown,
		LessonCheckDelay:    p.LessonCheckDelay,
		LessonGuardCooldown: p.LessonGuardCooldown,
		ProgressDebounce:    p.ProgressDebounce,
		TextSettleDelay:     p.TextSettleDelay,
		TextTick:            p.TextTick,
	}
}

// checker is a dependency probed by /readyz.
type checker interface {
	HealthCheck(ctx context.Context) error
}

// snapshotFunc returns the lesson state of a live session.
type snapshotFunc func(sessionID string) (lesson.Snapshot, bool)

func sessionSnapshots(hub *gateway.Hub) snapshotFunc {
	return func(id string) (lesson.Snapshot, bool) {
		s, ok := hub.Session(id)
		if !ok {
			return lesson.Snapshot{}, false
		}
		return s.Snapshot()
	}
}

// newMux creates the HTTP router.
func newMux(ws http.Handler, snapshots snapshotFunc, checks map[string]checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(checks))
	mux.Handle("GET /ws", ws)
	mux.HandleFunc("GET /sessions/{id}/report.xlsx", handleReport(snapshots))
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(checks map[string]checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, c := range checks {
			if err := c.HealthCheck(ctx); err != nil {
				slog.Warn("readiness check failed", "dependency", name, "error", err)
				failed[name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}

func handleReport(snapshots snapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := snapshots(r.PathValue("id"))
		if !ok {
			http.Error(w, "session not found or no lesson open", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", report.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename(snap)))
		if err := report.WriteXLSX(w, snap); err != nil {
			slog.Error("writing progress report", "session_id", r.PathValue("id"), "error", err)
		}
	}
}
