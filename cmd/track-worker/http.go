package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/FreightTrack/config"
	"github.com/BearBump/FreightTrack/internal/schedule"
	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/BearBump/FreightTrack/internal/services/poller"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	poller    *poller.Poller
	batcher   *notify.Batcher
	scheduler *schedule.Scheduler
	cfg       *config.Config
}

type workerStats struct {
	poller.Stats
	NextDigestAt *time.Time `json:"nextDigestAt,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newWorkerRouter(opts workerHTTPOpts) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poller not wired"})
			return
		}
		out := workerStats{Stats: opts.poller.Stats()}
		if opts.scheduler != nil {
			if next := opts.scheduler.Next(); len(next) > 0 && !next[0].IsZero() {
				out.NextDigestAt = &next[0]
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config not wired"})
			return
		}
		// Only operational settings, no credentials.
		ft := opts.cfg.FreightTrack
		writeJSON(w, http.StatusOK, map[string]any{
			"pollIntervalSeconds":          ft.WorkerPollIntervalSeconds,
			"batchSize":                    ft.WorkerBatchSize,
			"leaseSeconds":                 ft.WorkerLeaseSeconds,
			"rateLimitPerMinute":           ft.WorkerRateLimitPerMinute,
			"lockTTLSeconds":               ft.WorkerLockTTLSeconds,
			"braspressCooldownSeconds":     opts.cfg.Carriers.BraspressCooldownSeconds,
			"nextCheckInTransitMinSeconds": ft.WorkerNextCheckInTransitMinSeconds,
			"nextCheckInTransitMaxSeconds": ft.WorkerNextCheckInTransitMaxSeconds,
			"nextCheckUnknownSeconds":      ft.WorkerNextCheckUnknownSeconds,
			"retryMaxAttempts":             opts.cfg.Retry.MaxAttempts,
			"digestSchedule":               opts.cfg.Notifications.Schedule,
			"digestTimezone":               opts.cfg.Notifications.Timezone,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poller not wired"})
			return
		}
		opts.poller.Trigger()
		writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
	})

	r.Post("/notifications/send", func(w http.ResponseWriter, r *http.Request) {
		if opts.batcher == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "batcher not wired"})
			return
		}
		res, err := opts.batcher.Run(r.Context())
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	return r
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newWorkerRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	err = srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
