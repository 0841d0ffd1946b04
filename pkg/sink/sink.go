// Package sink writes enriched batches to their destinations.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/canopy-network/exposure/pkg/models"
)

// Sink receives whole enriched batches.
type Sink interface {
	WriteWindows(ctx context.Context, windows []models.EnrichedWindow) error
	WriteActions(ctx context.Context, actions []models.EnrichedAction) error
	Close() error
}

const (
	kindWindows = "windows"
	kindActions = "actions"
)

// Multi writes every batch to each sink in order and stops at the first failure.
type Multi []Sink

func (m Multi) WriteWindows(ctx context.Context, windows []models.EnrichedWindow) error {
	for _, s := range m {
		if err := s.WriteWindows(ctx, windows); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) WriteActions(ctx context.Context, actions []models.EnrichedAction) error {
	for _, s := range m {
		if err := s.WriteActions(ctx, actions); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Kinds validates a list of sink names.
func Kinds(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		switch n {
		case "stdout", "csv", "http", "clickhouse":
			out = append(out, n)
		case "":
		default:
			return nil, fmt.Errorf("unknown sink %q", n)
		}
	}
	if len(out) == 0 {
		out = append(out, "stdout")
	}
	return out, nil
}
