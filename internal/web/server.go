package web

import (
	"log"
	"net/http"
	"strings"

	"github.com/example/o2c-lite/internal/service"
)

// Server is the web HTTP server
type Server struct {
	addr     string
	handlers *Handlers
	mux      *http.ServeMux
}

// NewServer creates a new web server
func NewServer(addr string, orchestrator *service.OrchestratorService) *Server {
	s := &Server{
		addr:     addr,
		handlers: NewHandlers(orchestrator),
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/requests", s.corsMiddleware(s.method(http.MethodPost, s.handlers.Handle)))
	// trailing slash enables prefix matching for /api/audits/{id}
	s.mux.HandleFunc("/api/audits/", s.corsMiddleware(s.routeAudits))
	s.mux.HandleFunc("/api/ledger/balances", s.corsMiddleware(s.method(http.MethodGet, s.handlers.GetBalances)))
	s.mux.HandleFunc("/api/items/", s.corsMiddleware(s.method(http.MethodGet, s.handlers.ListItems)))
	s.mux.HandleFunc("/api/quotes/", s.corsMiddleware(s.method(http.MethodGet, s.routeQuotes)))

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(indexHTML))
	})
}

// routeAudits routes requests to the appropriate handler based on the path
func (s *Server) routeAudits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/audits")
	if path == "" || path == "/" {
		s.handlers.ListAudits(w, r)
		return
	}
	s.handlers.GetAudit(w, r)
}

func (s *Server) routeQuotes(w http.ResponseWriter, r *http.Request) {
	if strings.TrimPrefix(r.URL.Path, "/api/quotes/") == "" {
		s.handlers.SearchQuotes(w, r)
		return
	}
	s.handlers.ValidateQuote(w, r)
}

func (s *Server) method(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return s.mux
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>o2c-lite</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 800px; margin: 60px auto; color: #333; }
        code { background: #f3f4f6; padding: 2px 8px; border-radius: 4px; }
    </style>
</head>
<body>
    <h1>o2c-lite</h1>
    <ul>
        <li><code>POST /api/requests</code> {"text": "...", "session_id": "..."}</li>
        <li><code>GET /api/audits/</code> and <code>GET /api/audits/{request_id}</code></li>
        <li><code>GET /api/ledger/balances?from=YYYY-MM-DD&amp;to=YYYY-MM-DD</code></li>
        <li><code>GET /api/quotes/?q=cardstock</code> and <code>GET /api/quotes/{quote_id}</code></li>
        <li><code>GET /api/items/</code></li>
    </ul>
</body>
</html>
`
