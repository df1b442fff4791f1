package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/app"
	"github.com/ariefcatur/marketplace-checkout/internal/config"
	"github.com/ariefcatur/marketplace-checkout/internal/httpx"
	"github.com/ariefcatur/marketplace-checkout/internal/logger"
	"github.com/ariefcatur/marketplace-checkout/internal/metrics"
	"github.com/ariefcatur/marketplace-checkout/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg := logger.New(cfg.Logger())
	defer func() { _ = lg.Sync() }()

	if err := metrics.Register(nil); err != nil {
		lg.Fatal("register metrics", logger.Err(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("startup", logger.Err(err))
	}

	reservations := a.ReservationService()
	router := httpx.NewRouter(lg.Named("http"), cfg.CheckoutTimeout)
	oh := &httpx.OrdersHandler{Orders: a.OrderService(), Log: lg.Named("http")}
	if a.Redis != nil {
		oh.Cache = redisx.NewOrderCache(a.Redis)
	}
	oh.Register(router)
	(&httpx.CartsHandler{Carts: a.CartService(reservations), Reservations: reservations}).Register(router)
	(&httpx.ReservationsHandler{Reservations: reservations}).Register(router)
	(&httpx.CatalogHandler{Products: a.Products, Variants: a.Variants}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		lg.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("listen", logger.Err(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	lg.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	a.Close() // flushes producers
}
