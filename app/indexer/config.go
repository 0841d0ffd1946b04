package indexer

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/canopy-network/exposure/pkg/sink"
	"github.com/canopy-network/exposure/pkg/utils"
	"github.com/joho/godotenv"
)

// Config is everything the indexer reads from its environment.
type Config struct {
	IndexerID string
	RPCURL    string
	// ChainID is only needed to recover transaction senders.
	ChainID       int64
	StartHeight   int64
	EndHeight     int64
	Confirmations int64
	BatchSize     int64
	Transactions  bool

	FlushInterval   time.Duration
	RecentHorizon   time.Duration
	PollInterval    time.Duration
	BackfillWorkers int

	AssetsFile  string
	ERC20Tokens []string
	SpotURLs    []string
	SpotAPIKey  string

	Sinks         []string
	CSVDir        string
	SinkHTTPURL   string
	ClickHouseDSN string

	StatusAddr string
}

// LoadConfig reads the environment, seeded from a .env file when one exists.
func LoadConfig() (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := Config{
		IndexerID:       utils.Env("INDEXER_ID", ""),
		RPCURL:          utils.Env("RPC_URL", ""),
		ChainID:         utils.EnvInt64("CHAIN_ID", 1),
		StartHeight:     utils.EnvInt64("START_HEIGHT", 0),
		EndHeight:       utils.EnvInt64("END_HEIGHT", 0),
		Confirmations:   utils.EnvInt64("CONFIRMATIONS", 12),
		BatchSize:       utils.EnvInt64("BATCH_SIZE", 100),
		Transactions:    utils.EnvBool("INDEX_TRANSACTIONS", true),
		FlushInterval:   utils.EnvDuration("FLUSH_INTERVAL", 24*time.Hour),
		RecentHorizon:   utils.EnvDuration("RECENT_HORIZON", 2*time.Hour),
		PollInterval:    utils.EnvDuration("POLL_INTERVAL", 5*time.Second),
		BackfillWorkers: utils.EnvInt("BACKFILL_WORKERS", 32),
		AssetsFile:      utils.Env("ASSETS_FILE", "assets.yaml"),
		ERC20Tokens:     utils.EnvList("ERC20_TOKENS", nil),
		SpotURLs:        utils.EnvList("SPOT_API_URLS", []string{"https://api.coingecko.com/api/v3"}),
		SpotAPIKey:      utils.Env("SPOT_API_KEY", ""),
		CSVDir:          utils.Env("CSV_DIR", "./out"),
		SinkHTTPURL:     utils.Env("SINK_HTTP_URL", ""),
		StatusAddr:      utils.Env("STATUS_ADDR", ":3001"),
	}

	if cfg.IndexerID == "" {
		return Config{}, errors.New("INDEXER_ID environment variable is required")
	}
	if cfg.RPCURL == "" {
		return Config{}, errors.New("RPC_URL environment variable is required")
	}
	if len(cfg.ERC20Tokens) == 0 {
		return Config{}, errors.New("ERC20_TOKENS must list at least one token contract")
	}
	if cfg.FlushInterval <= 0 {
		return Config{}, fmt.Errorf("FLUSH_INTERVAL must be positive, got %s", cfg.FlushInterval)
	}
	if cfg.EndHeight > 0 && cfg.EndHeight < cfg.StartHeight {
		return Config{}, fmt.Errorf("END_HEIGHT %d is below START_HEIGHT %d", cfg.EndHeight, cfg.StartHeight)
	}

	sinks, err := sink.Kinds(utils.EnvList("SINKS", nil))
	if err != nil {
		return Config{}, err
	}
	cfg.Sinks = sinks
	for _, s := range sinks {
		switch s {
		case "http":
			if cfg.SinkHTTPURL == "" {
				return Config{}, errors.New("SINK_HTTP_URL is required by the http sink")
			}
		case "clickhouse":
			cfg.ClickHouseDSN = clickHouseDSN()
		}
	}
	return cfg, nil
}

func clickHouseDSN() string {
	u := url.URL{
		Scheme: "clickhouse",
		Host:   utils.Env("CLICKHOUSE_ADDR", "localhost:9000"),
		Path:   "/" + utils.Env("CLICKHOUSE_DATABASE", "exposure"),
	}
	user := utils.Env("CLICKHOUSE_USER", "default")
	if pw := utils.Env("CLICKHOUSE_PASSWORD", ""); pw != "" {
		u.User = url.UserPassword(user, pw)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}
