// Package httpapi exposes the fleet control plane's HTTP surface: per-path
// agent operations, websocket subscription upgrade, and debug endpoints.
// Grounded on the teacher's internal/api router (chi.NewRouter with a
// standard middleware stack) and internal/api/middleware's Logger/
// TenantExtractor shape, generalized from a fixed kitchen/agentName pair to
// an arbitrary-depth fleetpath.Path resolved per request, and from a single
// action-in-body route to the suffix-classified endpoint table spec.md
// §4.1/§6 describe.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/internal/apperr"
	"github.com/fleetgrid/control-plane/internal/config"
	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/internal/registry"
	"github.com/fleetgrid/control-plane/internal/subscription"
)

// Handlers bundles the registry and configuration the HTTP surface needs.
type Handlers struct {
	Registry *registry.Registry
	Cfg      *config.Config
	SubCfg   subscription.Config
	Version  string
}

// knownSuffixes is spec.md §4.1's fixed endpoint-suffix list. Its order does
// not matter: classifyEndpoint compares the lengths of all matches, so a
// longer, more specific suffix always wins a tie (e.g. "/inventory/stock"
// over a hypothetical bare "/stock").
var knownSuffixes = []string{
	"/inventory/alerts",
	"/inventory/query",
	"/delete-subtree",
	"/inventory/sync",
	"/inventory/stock",
	"/debug/locations",
	"/ai/forecast",
	"/ai/insights",
	"/debug/db",
	"/ai/analyze",
	"/increment",
	"/messages",
	"/message",
	"/state",
}

// classifyEndpoint splits an incoming URL path into the agent path and the
// API endpoint suffix, per spec.md §4.1: the longest matching known suffix
// is stripped to produce the agent's path; what remains is the endpoint.
// The "/inventory/" and "/ai/" substrings additionally split at their first
// occurrence, so an endpoint under one of those namespaces is recognized
// even if it isn't one of the literal suffixes above.
func classifyEndpoint(path string) (agentPath, endpoint string, ok bool) {
	if idx := strings.Index(path, "/inventory/"); idx >= 0 {
		return normalizeAgentPath(path[:idx]), path[idx:], true
	}
	if idx := strings.Index(path, "/ai/"); idx >= 0 {
		return normalizeAgentPath(path[:idx]), path[idx:], true
	}

	best := ""
	for _, suf := range knownSuffixes {
		if strings.HasSuffix(path, suf) && len(suf) > len(best) {
			best = suf
		}
	}
	if best == "" {
		return "", "", false
	}
	return normalizeAgentPath(strings.TrimSuffix(path, best)), best, true
}

func normalizeAgentPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// NewRouter builds the chi router for the fleet control plane.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(tenantExtractor)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "tenant", "fleet-path"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)
	r.Get("/version", h.version)
	r.HandleFunc("/*", h.route)

	return r
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "fleetgrid-control-plane"})
}

func (h *Handlers) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.Cfg.Version, "service": "fleetgrid-control-plane"})
}

// route is the single front door every non-health/version request passes
// through: classify the endpoint, resolve the owner, and dispatch.
func (h *Handlers) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if strings.HasSuffix(path, "/ws") {
		h.serveWebsocket(w, r, strings.TrimSuffix(path, "/ws"))
		return
	}

	agentPath, endpoint, ok := classifyEndpoint(path)
	if !ok {
		if r.Method == http.MethodGet && h.serveStatic(w, r) {
			return
		}
		apperr.WriteJSON(w, apperr.NotFound("unknown endpoint %s", path))
		return
	}

	switch endpoint {
	case "/debug/locations":
		h.debugLocations(w, r)
		return
	}

	owner, err := ownerFor(r, agentPath)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	switch {
	case endpoint == "/state" && r.Method == http.MethodGet:
		h.getState(w, r, owner)
	case endpoint == "/increment" && r.Method == http.MethodGet:
		h.increment(w, r, owner)
	case endpoint == "/messages" && r.Method == http.MethodGet:
		h.getMessages(w, r, owner)
	case endpoint == "/message" && r.Method == http.MethodPost:
		h.postMessage(w, r, owner)
	case endpoint == "/delete-subtree" && r.Method == http.MethodPost:
		h.deleteSubtree(w, r, owner)
	case endpoint == "/inventory/stock" && r.Method == http.MethodGet:
		h.getInventoryStock(w, r, owner)
	case endpoint == "/inventory/stock" && r.Method == http.MethodPost:
		h.postInventoryStock(w, r, owner)
	case endpoint == "/inventory/query" && r.Method == http.MethodGet:
		h.getInventoryQuery(w, r, owner)
	case endpoint == "/inventory/sync" && r.Method == http.MethodPost:
		h.postInventorySync(w, r, owner)
	case endpoint == "/inventory/alerts" && r.Method == http.MethodGet:
		h.getInventoryAlerts(w, r, owner)
	case endpoint == "/ai/analyze" && r.Method == http.MethodGet:
		h.getAIAnalyze(w, r, owner)
	case endpoint == "/ai/forecast" && r.Method == http.MethodPost:
		h.postAIForecast(w, r, owner)
	case endpoint == "/ai/insights" && r.Method == http.MethodGet:
		h.getAIInsights(w, r, owner)
	case endpoint == "/debug/db" && r.Method == http.MethodGet:
		h.debugDB(w, r, owner)
	default:
		apperr.WriteJSON(w, apperr.MethodNotAllowed(r.Method, endpoint))
	}
}

// ownerFor derives the OwnerKey for agentPath, preferring the "tenant" and
// "fleet-path" request headers over host/URL-derived values when present —
// spec.md §4.1's forwarding contract.
func ownerFor(r *http.Request, agentPath string) (fleetpath.OwnerKey, error) {
	tenant, rest := fleetpath.DeriveTenant(r.Host, agentPath)
	if hdr := r.Header.Get("fleet-path"); hdr != "" {
		rest = hdr
	}
	if hdr := r.Header.Get("tenant"); hdr != "" {
		tenant = fleetpath.TenantKey(hdr)
	}
	path, err := fleetpath.ParsePath(rest)
	if err != nil {
		return fleetpath.OwnerKey{}, err
	}
	return fleetpath.NewOwnerKey(tenant, path), nil
}

func (h *Handlers) serveWebsocket(w http.ResponseWriter, r *http.Request, agentPath string) {
	owner, err := ownerFor(r, agentPath)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := subscription.Serve(w, r, a, h.SubCfg); err != nil {
		log.Warn().Err(err).Str("owner", owner.String()).Msg("httpapi: websocket session ended with error")
	}
}

func (h *Handlers) debugLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"locations": h.Registry.Snapshot(), "count": h.Registry.Count()})
}

// serveStatic serves the prebuilt dashboard for a GET that didn't match any
// known API endpoint, falling back to index.html for client-side routes.
// Reports whether it served anything, so the caller can fall through to a
// 404 when no StaticDir is configured.
func (h *Handlers) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	if h.Cfg.StaticDir == "" {
		return false
	}
	fileServer := http.FileServer(http.Dir(h.Cfg.StaticDir))
	if _, err := os.Stat(filepath.Join(h.Cfg.StaticDir, r.URL.Path)); os.IsNotExist(err) {
		http.ServeFile(w, r, filepath.Join(h.Cfg.StaticDir, "index.html"))
		return true
	}
	fileServer.ServeHTTP(w, r)
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type loggingWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type tenantContextKey struct{}

func tenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, _ := fleetpath.DeriveTenant(r.Host, r.URL.Path)
		if hdr := r.Header.Get("tenant"); hdr != "" {
			tenant = fleetpath.TenantKey(hdr)
		}
		ctx := context.WithValue(r.Context(), tenantContextKey{}, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
