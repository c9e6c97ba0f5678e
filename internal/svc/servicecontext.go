package svc

import (
	"log"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	cachekeys "marketspine/internal/cache"
	"marketspine/internal/config"
	"marketspine/internal/model"
	"marketspine/internal/persistence/store"
	marketpkg "marketspine/pkg/market"
	_ "marketspine/pkg/market/mock" // register mock provider
	_ "marketspine/pkg/market/rest" // register rest provider
	"marketspine/pkg/ohlcv"
)

// ServiceContext carries every shared dependency the daemon's jobs need:
// session clock, market providers, storage models and the live aggregator.
type ServiceContext struct {
	Config *config.Config
	Clock  *ohlcv.Clock

	MarketConfig    *marketpkg.Config
	MarketProviders map[string]marketpkg.Provider
	DefaultMarket   marketpkg.Provider

	DBConn           sqlx.SqlConn
	BarsModel        model.BarsModel
	FutOiModel       model.FutOiModel
	OptionChainModel model.OptionChainModel
	BreadthModel     model.BreadthModel
	VixModel         model.VixModel

	Cache gocache.Cache
	TTL   cachekeys.TTLSet
	Store *store.Service

	Aggregator *ohlcv.Aggregator
}

func NewServiceContext(c *config.Config) *ServiceContext {
	svc := &ServiceContext{
		Config: c,
		Clock:  c.Clock(),
		TTL:    cachekeys.NewTTLSet(c.TTL),
	}

	marketCfg := c.Market.Value
	if marketCfg == nil {
		// No market file configured; fall back to the deterministic provider
		// so the daemon stays runnable in test environments.
		marketCfg = &marketpkg.Config{
			Default: "mock",
			Providers: map[string]*marketpkg.ProviderConfig{
				"mock": {Type: "mock"},
			},
		}
	}
	providers, err := marketCfg.BuildProviders()
	if err != nil {
		log.Fatalf("failed to build market providers: %v", err)
	}
	svc.MarketConfig = marketCfg
	svc.MarketProviders = providers
	if marketCfg.Default != "" {
		svc.DefaultMarket = providers[marketCfg.Default]
	}
	if svc.DefaultMarket == nil {
		log.Fatalf("market config declares no usable default provider")
	}

	if strings.TrimSpace(c.Redis.Host) != "" {
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		svc.Cache = gocache.NewNode(rds, syncx.NewSingleFlight(), gocache.NewStat("marketspine"), model.ErrNotFound)
	}

	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		svc.BarsModel = model.NewBarsModel(conn)
		svc.FutOiModel = model.NewFutOiModel(conn)
		svc.OptionChainModel = model.NewOptionChainModel(conn)
		svc.BreadthModel = model.NewBreadthModel(conn)
		svc.VixModel = model.NewVixModel(conn)
	}

	svc.Store = store.NewService(store.Config{
		SQLConn:      svc.DBConn,
		BarsModel:    svc.BarsModel,
		FutOiModel:   svc.FutOiModel,
		OptionModel:  svc.OptionChainModel,
		BreadthModel: svc.BreadthModel,
		VixModel:     svc.VixModel,
		Cache:        svc.Cache,
		TTL:          svc.TTL,
	})

	svc.Aggregator = ohlcv.NewAggregator(svc.Clock, c.Timeframe(), c.Symbols)
	return svc
}
