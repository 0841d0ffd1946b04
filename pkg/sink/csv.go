package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/canopy-network/exposure/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	windowHeader = []string{
		"user", "asset", "activity", "start_ts", "end_ts", "start_height", "end_height", "trigger",
		"raw_before", "raw_after", "start_tx_ref", "end_tx_ref", "log_index", "meta",
		"decimals", "twa_price", "value_usd", "duration_ms", "covered_ms", "samples",
	}
	actionHeader = []string{
		"key", "user", "priceable", "asset", "amount", "ts", "height", "tx_hash", "log_index",
		"gas_used", "gas_price", "from", "to", "meta", "price_usd", "value_usd",
	}
)

// CSV appends windows and actions to windows.csv and actions.csv in a directory. The
// header row is written only when a file is created.
type CSV struct {
	mu      sync.Mutex
	windows *csvFile
	actions *csvFile
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func openCSV(path string, header []string) (*csvFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	cf := &csvFile{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := cf.w.Write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
		cf.w.Flush()
	}
	return cf, cf.w.Error()
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	w, err := openCSV(filepath.Join(dir, "windows.csv"), windowHeader)
	if err != nil {
		return nil, err
	}
	a, err := openCSV(filepath.Join(dir, "actions.csv"), actionHeader)
	if err != nil {
		_ = w.f.Close()
		return nil, err
	}
	return &CSV{windows: w, actions: a}, nil
}

func (s *CSV) WriteWindows(_ context.Context, windows []models.EnrichedWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range windows {
		err := s.windows.w.Write([]string{
			w.User, w.Asset, w.Activity,
			strconv.FormatInt(w.StartTs, 10), strconv.FormatInt(w.EndTs, 10),
			strconv.FormatInt(w.StartHeight, 10), strconv.FormatInt(w.EndHeight, 10),
			string(w.Trigger), w.RawBefore, w.RawAfter, w.StartTxRef, w.EndTxRef,
			optInt(w.LogIndex), formatMeta(w.Meta),
			strconv.FormatInt(int64(w.Decimals), 10), w.TwaPrice.String(), w.ValueUsd.String(),
			strconv.FormatInt(w.DurationMs, 10), strconv.FormatInt(w.CoveredMs, 10), strconv.Itoa(w.Samples),
		})
		if err != nil {
			return err
		}
	}
	s.windows.w.Flush()
	return s.windows.w.Error()
}

func (s *CSV) WriteActions(_ context.Context, actions []models.EnrichedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		err := s.actions.w.Write([]string{
			a.Key, a.User, strconv.FormatBool(a.Priceable), a.Asset, a.Amount,
			strconv.FormatInt(a.Ts, 10), strconv.FormatInt(a.Height, 10), a.TxHash, optInt(a.LogIndex),
			a.GasUsed, a.GasPrice, a.From, a.To, formatMeta(a.Meta),
			optDecimal(a.PriceUsd), optDecimal(a.ValueUsd),
		})
		if err != nil {
			return err
		}
	}
	s.actions.w.Flush()
	return s.actions.w.Error()
}

func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows.w.Flush()
	s.actions.w.Flush()
	err1 := s.windows.f.Close()
	err2 := s.actions.f.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optDecimal(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// formatMeta renders meta as sorted k=v pairs joined by ';'.
func formatMeta(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ";")
}
