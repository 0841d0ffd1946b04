package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/canopy-network/exposure/pkg/models"
)

// JSONLines writes one JSON object per record, tagged with its record type.
type JSONLines struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: bufio.NewWriter(w)}
}

type taggedWindow struct {
	Type string `json:"type"`
	models.EnrichedWindow
}

type taggedAction struct {
	Type string `json:"type"`
	models.EnrichedAction
}

func (s *JSONLines) WriteWindows(_ context.Context, windows []models.EnrichedWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	for _, w := range windows {
		if err := enc.Encode(taggedWindow{Type: "window", EnrichedWindow: w}); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func (s *JSONLines) WriteActions(_ context.Context, actions []models.EnrichedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	for _, a := range actions {
		if err := enc.Encode(taggedAction{Type: "action", EnrichedAction: a}); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func (s *JSONLines) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
