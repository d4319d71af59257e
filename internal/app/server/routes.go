package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"iptracker/internal/auth"
	"iptracker/internal/blocklist"
	"iptracker/internal/database"
	"iptracker/internal/geolocation"
	"iptracker/internal/jobs/runtime"
	"iptracker/internal/metrics"
	"iptracker/internal/ratelimit"
	"iptracker/internal/tracking"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the collaborators the HTTP layer is built from.
type Dependencies struct {
	Store       *database.Store
	Blocklist   *blocklist.Manager
	Interceptor *tracking.Interceptor
	Limiter     ratelimit.Limiter
	Policy      *ratelimit.Policy
	Scanner     runtime.Scanner
	Redis       *redis.Client
	GeoLite     *geolocation.GeoLiteProvider
}

type Server struct {
	store     *database.Store
	blocklist *blocklist.Manager
	scanner   runtime.Scanner
	redis     *redis.Client
	geolite   *geolocation.GeoLiteProvider
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewHandler wires every route behind the request interceptor.
func NewHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil || deps.Blocklist == nil || deps.Interceptor == nil {
		return nil, errors.New("server: store, blocklist and interceptor are required")
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewMemoryLimiter()
	}
	if deps.Policy == nil {
		deps.Policy = ratelimit.NewPolicy()
	}

	s := &Server{
		store:     deps.Store,
		blocklist: deps.Blocklist,
		scanner:   deps.Scanner,
		redis:     deps.Redis,
		geolite:   deps.GeoLite,
	}

	graphQL, err := newGraphQLHandler(deps.Store, deps.Blocklist)
	if err != nil {
		return nil, fmt.Errorf("server: build graphql schema: %w", err)
	}

	guard := ratelimit.Guard(deps.Limiter, deps.Policy)

	router := http.NewServeMux()
	router.HandleFunc("GET /{$}", s.index)
	router.HandleFunc("GET /healthz", s.health)

	router.HandleFunc("GET /login", s.loginInfo)
	router.Handle("POST /login", guard(http.HandlerFunc(s.login)))
	router.Handle("POST /register", guard(http.HandlerFunc(s.register)))
	router.Handle("POST /logout", auth.RequireAuth(http.HandlerFunc(s.logout)))
	router.Handle("GET /checkLogin", auth.RequireAuth(http.HandlerFunc(s.checkLogin)))

	router.Handle("GET /api/suspicious-ips", auth.IsAdmin(http.HandlerFunc(s.listSuspiciousIPs)))
	router.Handle("GET /api/blocked-ips", auth.IsAdmin(http.HandlerFunc(s.listBlockedIPs)))
	router.Handle("POST /api/blocked-ips", auth.IsAdmin(http.HandlerFunc(s.blockIP)))
	router.Handle("POST /api/anomaly-scan", auth.IsAdmin(http.HandlerFunc(s.runAnomalyScan)))
	router.Handle("GET /api/settings", auth.IsAdmin(http.HandlerFunc(s.getSettings)))
	router.Handle("POST /api/settings", auth.IsAdmin(http.HandlerFunc(s.saveSettings)))

	router.Handle("POST /graphql", auth.IsAdmin(graphQL))
	router.Handle("GET /metrics", metrics.Handler())

	log.Debug("Routes opened")

	return deps.Interceptor.Middleware(enableCORS(router)), nil
}

// OpenRoutes serves handler on port until ctx ends, then drains open
// connections.
func OpenRoutes(ctx context.Context, port int, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting iptracker on port :%d", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return <-errCh
}
