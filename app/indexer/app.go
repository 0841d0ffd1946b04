package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/canopy-network/exposure/pkg/adapters/erc20"
	"github.com/canopy-network/exposure/pkg/backfill"
	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/engine"
	"github.com/canopy-network/exposure/pkg/enrich"
	"github.com/canopy-network/exposure/pkg/ledger"
	"github.com/canopy-network/exposure/pkg/logging"
	"github.com/canopy-network/exposure/pkg/pricefeed"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/canopy-network/exposure/pkg/pricing/feeds"
	"github.com/canopy-network/exposure/pkg/redis"
	"github.com/canopy-network/exposure/pkg/sink"
	"github.com/canopy-network/exposure/pkg/source"
	"github.com/canopy-network/exposure/pkg/store"
	"github.com/canopy-network/exposure/pkg/utils"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

type App struct {
	Config   Config
	Engine   *engine.Engine
	Source   *source.RPC
	Backfill *backfill.Backfiller
	Server   *http.Server
	Redis    *redis.Client
	Eth      *ethclient.Client
	Logger   *zap.Logger
}

// Start serves the status endpoints and runs the engine until the context is canceled,
// the final height is processed, or a batch fails.
func (a *App) Start(ctx context.Context) error {
	go func() {
		a.Logger.Info("Starting status server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Status server stopped", zap.Error(err))
		}
	}()

	err := a.Engine.Run(ctx, a.Source)
	switch {
	case errors.Is(err, engine.ErrFinished):
		a.Logger.Info("Reached final height", zap.Int64("endHeight", a.Config.EndHeight))
		err = nil
	case errors.Is(err, context.Canceled):
		err = nil
	case err != nil:
		a.Logger.Error("Indexer stopped on error", zap.Error(err))
	}
	a.Stop()
	return err
}

// Stop releases every connection, flushing the sinks first.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("Status server shutdown", zap.Error(err))
	}
	a.Source.Close()
	a.Backfill.Close()
	if err := a.Engine.Close(); err != nil {
		a.Logger.Error("Closing sinks", zap.Error(err))
	}
	a.Eth.Close()
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("Closing redis", zap.Error(err))
	}
	a.Logger.Info("さようなら!")
	_ = a.Logger.Sync()
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	cfg, cfgErr := LoadConfig()

	logger, err := logging.New(cfg.IndexerID)
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	if cfgErr != nil {
		logger.Fatal("Invalid configuration", zap.Error(cfgErr))
	}

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to connect to redis", zap.Error(err))
	}
	st := store.NewRedis(redisClient.GetClient(), utils.Env("REDIS_KEY_PREFIX", "exposure:"+cfg.IndexerID))

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		logger.Fatal("Unable to dial rpc", zap.Error(err))
	}
	reader, err := chain.NewEthReader(eth, logger)
	if err != nil {
		logger.Fatal("Unable to build chain reader", zap.Error(err))
	}

	catalog, err := pricing.LoadCatalog(cfg.AssetsFile)
	if err != nil {
		logger.Fatal("Unable to load asset catalog", zap.String("file", cfg.AssetsFile), zap.Error(err))
	}
	logger.Info("Loaded asset catalog", zap.Int("entries", catalog.Len()))

	led := ledger.New(st, ledger.Config{
		IndexerID:     cfg.IndexerID,
		FlushInterval: cfg.FlushInterval,
		FinalHeight:   cfg.EndHeight,
		RecentHorizon: cfg.RecentHorizon,
	}, logger)

	handlerMeta := cache.NewHandlerMetaCache(st)
	metadata := cache.NewMetadataCache(st)
	prices := cache.NewPriceCache(st)

	// Public price APIs throttle hard; keep well under the free tier limits.
	spot := pricefeed.NewHTTPWithOpts(pricefeed.Opts{
		Endpoints:       cfg.SpotURLs,
		APIKey:          cfg.SpotAPIKey,
		RPS:             utils.EnvInt("SPOT_API_RPS", 5),
		Burst:           utils.EnvInt("SPOT_API_BURST", 10),
		BreakerFailures: 3,
		BreakerCooldown: 30 * time.Second,
	})
	registry := feeds.Register(pricing.NewRegistry(), feeds.Deps{
		Reader:   reader,
		Spot:     spot,
		Meta:     handlerMeta,
		Measures: led,
		Logger:   logger,
	})
	resolver := pricing.NewResolver(registry, metadata, prices, logger)

	bf := backfill.New(resolver, catalog, led, cfg.FlushInterval, cfg.BackfillWorkers, logger)
	enricher := enrich.New(prices, metadata, logger)

	out, err := openSinks(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to open sinks", zap.Strings("sinks", cfg.Sinks), zap.Error(err))
	}

	tokens := erc20.New(cfg.ERC20Tokens, logger)
	eng := engine.New(engine.Config{
		IndexerID:     cfg.IndexerID,
		FlushInterval: cfg.FlushInterval,
		FinalHeight:   cfg.EndHeight,
		PollInterval:  cfg.PollInterval,
	}, engine.Deps{
		Store:    st,
		Ledger:   led,
		Resolver: resolver,
		Catalog:  catalog,
		Meta:     handlerMeta,
		Backfill: bf,
		Enricher: enricher,
		Sink:     out,
		Adapters: []engine.Adapter{tokens},
		Logger:   logger,
	})

	from := cfg.StartHeight
	cursor, ok, err := eng.Cursor(ctx)
	if err != nil {
		logger.Fatal("Unable to read cursor", zap.Error(err))
	}
	if ok {
		from = cursor + 1
		logger.Info("Resuming from cursor", zap.Int64("cursor", cursor))
	}

	src := source.NewRPC(eth, source.Config{
		From:          from,
		To:            cfg.EndHeight,
		BatchSize:     cfg.BatchSize,
		Confirmations: cfg.Confirmations,
		Addresses:     tokens.Addresses(),
		Transactions:  cfg.Transactions,
		ChainID:       big.NewInt(cfg.ChainID),
	}, logger)

	status := &statusController{
		indexerID: cfg.IndexerID,
		cursor:    eng.Cursor,
		boundary:  led.FlushBoundary,
		ping:      redisClient.Health,
		logger:    logger,
	}
	server := &http.Server{
		Addr:              cfg.StatusAddr,
		Handler:           newStatusRouter(status),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Indexer initialized",
		zap.Int64("from", from),
		zap.Int64("endHeight", cfg.EndHeight),
		zap.Strings("sinks", cfg.Sinks),
		zap.Int("tokens", len(cfg.ERC20Tokens)))

	return &App{
		Config:   cfg,
		Engine:   eng,
		Source:   src,
		Backfill: bf,
		Server:   server,
		Redis:    redisClient,
		Eth:      eth,
		Logger:   logger,
	}
}

func openSinks(ctx context.Context, cfg Config, logger *zap.Logger) (sink.Multi, error) {
	var out sink.Multi
	for _, kind := range cfg.Sinks {
		var (
			s   sink.Sink
			err error
		)
		switch kind {
		case "stdout":
			s = sink.NewJSONLines(os.Stdout)
		case "csv":
			s, err = sink.NewCSV(cfg.CSVDir)
		case "http":
			s = sink.NewHTTP(cfg.SinkHTTPURL, nil, logger)
		case "clickhouse":
			s, err = sink.OpenClickHouse(ctx, cfg.ClickHouseDSN, logger)
		default:
			err = fmt.Errorf("unknown sink %q", kind)
		}
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("%s sink: %w", kind, err)
		}
		out = append(out, s)
	}
	return out, nil
}
