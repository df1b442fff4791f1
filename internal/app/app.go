// Package app wires the stores, caches and event bus a binary needs from
// its configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/cart"
	"github.com/ariefcatur/marketplace-checkout/internal/config"
	"github.com/ariefcatur/marketplace-checkout/internal/events"
	"github.com/ariefcatur/marketplace-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/marketplace-checkout/internal/kafka"
	"github.com/ariefcatur/marketplace-checkout/internal/memstore"
	"github.com/ariefcatur/marketplace-checkout/internal/orders"
	"github.com/ariefcatur/marketplace-checkout/internal/postgres"
	"github.com/ariefcatur/marketplace-checkout/internal/redisx"
	"github.com/ariefcatur/marketplace-checkout/internal/reservation"
	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

type App struct {
	Cfg config.Config
	Log *zap.Logger

	Tx           store.Transactor
	Users        orders.UserRepository
	Products     inventory.ProductRepository
	Variants     inventory.VariantRepository
	Reservations inventory.ReservationRepository
	Carts        cart.Repository
	Orders       orders.Repository

	Pool  *pgxpool.Pool // nil on the memory driver
	Redis *redis.Client // nil when Redis is unreachable
	Bus   *kafkax.Bus   // nil without brokers

	closers []func()
}

// New connects everything cfg asks for. Redis and Kafka are optional: when
// Redis does not answer the services run without cache and lock, and with
// no brokers events are dropped.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memstore.New()
		SeedDemo(mem)
		a.Tx = mem
		a.Users, a.Products, a.Variants = mem.Users(), mem.Products(), mem.Variants()
		a.Reservations = mem.Reservations()
		a.Carts, a.Orders = mem.Carts(), mem.Orders()
		log.Warn("using in-memory store, data is lost on exit")
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
		txm := postgres.NewTxManager(pool, cfg.TxMaxAttempts, log.Named("tx"))
		a.Tx = txm
		a.Users = &postgres.UserRepo{DB: txm}
		a.Products = &postgres.ProductRepo{DB: txm}
		a.Variants = &postgres.VariantRepo{DB: txm}
		a.Reservations = &postgres.ReservationRepo{DB: txm}
		a.Carts = &postgres.CartRepo{DB: txm}
		a.Orders = &postgres.OrderRepo{DB: txm}
	}

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable, running without cache and sweep lock", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rdb.Close()
		} else {
			a.Redis = rdb
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.Bus = kafkax.NewBus(ctx, cfg.KafkaBrokers, 1024, log.Named("kafka"))
		a.closers = append(a.closers, a.Bus.Close)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *App) Publisher() events.Publisher {
	if a.Bus == nil {
		return events.Discard{}
	}
	return a.Bus
}

func (a *App) ReservationService() *reservation.Service {
	return &reservation.Service{
		Tx:           a.Tx,
		Variants:     a.Variants,
		Reservations: a.Reservations,
		Carts:        a.Carts,
		Events:       a.Publisher(),
		TTL:          a.Cfg.ReservationTTL,
		ServiceName:  a.Cfg.ServiceName,
		Log:          a.Log.Named("reservation"),
	}
}

func (a *App) CartService(releaser cart.ReservationReleaser) *cart.Service {
	return &cart.Service{
		Tx:       a.Tx,
		Carts:    a.Carts,
		Variants: a.Variants,
		Releaser: releaser,
		Log:      a.Log.Named("cart"),
	}
}

func (a *App) OrderService() *orders.Service {
	s := &orders.Service{
		Tx:           a.Tx,
		Users:        a.Users,
		Carts:        a.Carts,
		Variants:     a.Variants,
		Reservations: a.Reservations,
		Orders:       a.Orders,
		Events:       a.Publisher(),
		Isolation:    a.Cfg.CheckoutIsolation,
		ServiceName:  a.Cfg.ServiceName,
		Log:          a.Log.Named("checkout"),
	}
	if a.Redis != nil {
		s.Cache = redisx.NewOrderCache(a.Redis)
	}
	return s
}

// Sweeper guards the reclaimer with the Redis lease when Redis is up.
func (a *App) Sweeper(svc *reservation.Service) *reservation.Sweeper {
	w := &reservation.Sweeper{
		Service:   svc,
		BatchSize: a.Cfg.SweepBatchSize,
		Log:       a.Log.Named("sweeper"),
	}
	if a.Redis != nil {
		w.Lock = redisx.NewLock(a.Redis, redisx.LockReservationSweep, a.Cfg.SweepLockTTL)
	}
	return w
}

// SeedDemo loads a small catalog into a memory store so the API can be
// exercised without a database.
func SeedDemo(mem *memstore.Store) {
	mem.AddUser("demo-user")
	mem.AddProduct(inventory.Product{ID: "prod-tee", StoreID: "store-1", Name: "Basic Tee"})
	mem.AddVariant(inventory.Variant{
		ID: "var-tee-s-blk", ProductID: "prod-tee", SKU: "TEE-S-BLK", PriceCents: 9900, StockQuantity: 25,
		Attributes: map[string]string{"size": "S", "color": "black"},
	})
	mem.AddVariant(inventory.Variant{
		ID: "var-tee-m-blk", ProductID: "prod-tee", SKU: "TEE-M-BLK", PriceCents: 9900, StockQuantity: 1,
		Attributes: map[string]string{"size": "M", "color": "black"},
	})
}
