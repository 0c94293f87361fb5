// Package monitor serves a read-only debug view of a running mapping
// session: the grid as an image or an interactive chart, and the pose track.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/banshee-data/gridslam/internal/httputil"
	"github.com/banshee-data/gridslam/internal/monitoring"
	"github.com/banshee-data/gridslam/internal/slam/mapping"
	"github.com/banshee-data/gridslam/internal/version"
)

var logf = monitoring.Component("monitor")

// WebServer exposes the debug endpoints for one session.
type WebServer struct {
	address    string
	session    *mapping.Session
	flusher    *mapping.Flusher
	assetsHost string
	server     *http.Server
}

// WebServerConfig configures a WebServer.
type WebServerConfig struct {
	Address string
	Session *mapping.Session
	// Flusher is optional; without it POST /debug/persist returns 404.
	Flusher *mapping.Flusher
	// AssetsHost overrides where chart pages load echarts from.
	AssetsHost string
}

// NewWebServer creates a WebServer. Call Start to listen.
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:    cfg.Address,
		session:    cfg.Session,
		flusher:    cfg.Flusher,
		assetsHost: cfg.AssetsHost,
	}
	if ws.assetsHost == "" {
		ws.assetsHost = defaultAssetsHost
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the route table.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/debug/stats", ws.handleStats)
	mux.HandleFunc("/debug/pose", ws.handlePose)
	mux.HandleFunc("/debug/map.png", ws.handleMapPNG)
	mux.HandleFunc("/debug/map.html", ws.handleMapHTML)
	mux.HandleFunc("/debug/persist", ws.handlePersist)
	return mux
}

// Start serves until ctx is cancelled, then shuts down. It returns the
// listener error if the server could not start.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server stopped")
	return nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

type statsResponse struct {
	SessionID string        `json:"session_id"`
	Stats     mapping.Stats `json:"stats"`
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, statsResponse{
		SessionID: ws.session.ID(),
		Stats:     ws.session.Stats(),
	})
}

type poseResponse struct {
	SessionID string               `json:"session_id"`
	Count     int                  `json:"count"`
	Poses     []mapping.PoseRecord `json:"poses"`
}

// handlePose returns the most recent poses, oldest first.
// Query params:
//   - limit (optional; default 500, max 10000)
func (ws *WebServer) handlePose(w http.ResponseWriter, r *http.Request) {
	limit := httputil.PositiveIntParam(r, "limit", 500, 10000)
	poses := ws.session.Poses()
	if len(poses) > limit {
		poses = poses[len(poses)-limit:]
	}
	httputil.WriteJSON(w, http.StatusOK, poseResponse{
		SessionID: ws.session.ID(),
		Count:     len(poses),
		Poses:     poses,
	})
}

func (ws *WebServer) handlePersist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if ws.flusher == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "persistence is not configured")
		return
	}
	ws.flusher.FlushNow()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "persisted"})
}
