package indexer

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type heightFunc func(ctx context.Context) (int64, bool, error)

// statusController serves the liveness probe and the indexer checkpoints.
type statusController struct {
	indexerID string
	cursor    heightFunc
	boundary  heightFunc
	// ping checks the state store; nil skips the check.
	ping   func(ctx context.Context) error
	logger *zap.Logger
}

type statusResponse struct {
	IndexerID     string `json:"indexerId"`
	Cursor        *int64 `json:"cursor"`
	FlushBoundary *int64 `json:"flushBoundary"`
}

func newStatusRouter(c *statusController) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", c.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", c.handleStatus).Methods(http.MethodGet)
	return r
}

func (c *statusController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if c.ping != nil {
		if err := c.ping(r.Context()); err != nil {
			c.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *statusController) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{IndexerID: c.indexerID}

	cursor, ok, err := c.cursor(r.Context())
	if err != nil {
		c.logger.Error("read cursor", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cursor unavailable"})
		return
	}
	if ok {
		resp.Cursor = &cursor
	}

	boundary, ok, err := c.boundary(r.Context())
	if err != nil {
		c.logger.Error("read flush boundary", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "flush boundary unavailable"})
		return
	}
	if ok {
		resp.FlushBoundary = &boundary
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
