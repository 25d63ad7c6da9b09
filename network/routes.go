package network

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

func isWebSocketRequest(r *http.Request) bool {
	return strings.ToLower(r.Header.Get("Upgrade")) == "websocket"
}

// SetupRoutes configures the HTTP routes.
func (router *Router) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(router.middlewareHandler())

	// JSON-RPC endpoint
	r.HandleFunc("/", router.rpc.ServeHTTP).Methods("POST", "OPTIONS")
	r.HandleFunc("/rpc", router.rpc.ServeHTTP).Methods("POST", "OPTIONS")

	// Committed block header feed
	r.HandleFunc("/ws/blocks", router.ws.WebSocketBlockHandler).Methods("GET")

	// Plain GET conveniences for probes and dashboards
	r.HandleFunc("/health", router.handleHealth).Methods("GET")
	r.HandleFunc("/status", router.handleStatus).Methods("GET")

	return r
}

func (router *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (router *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := router.rpc.node.Status()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (router *Router) middlewareHandler() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(log.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Debug("gateway request")

			if isWebSocketRequest(r) {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				next.ServeHTTP(w, r)
				return
			}

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
}
