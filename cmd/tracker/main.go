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

	"bus-wait-tracker/internal/api"
	"bus-wait-tracker/internal/cache"
	"bus-wait-tracker/internal/config"
	"bus-wait-tracker/internal/db"
	"bus-wait-tracker/internal/metrics"
	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/publisher"
	"bus-wait-tracker/internal/route"
	"bus-wait-tracker/internal/store"
	"bus-wait-tracker/internal/tracker"
	"bus-wait-tracker/internal/waitstate"
)

func main() {
	initLogging()

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := route.Load(cfg.RouteFile)
	if err != nil {
		log.Fatalf("route error: %v", err)
	}
	log.Printf("loaded route %s (bus %s, %d stops, %d riders)", rt.ID, rt.BusID, len(rt.Stops), len(rt.Riders))

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer st.Close()

	// Metrics setup; always mounted on the API, optionally on its own listener
	mcol := metrics.NewCollector(cfg.EvalInterval, cfg.TripsRefreshInterval)
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	var pub tracker.Publisher = discardPublisher{}
	if cfg.NATSURL != "" {
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer np.Close()
		pub = np
	} else {
		log.Printf("NATS_URL empty, fan-out disabled")
	}

	svc := tracker.NewService(st, rt, pub, mcol, tracker.Options{
		Location:         cfg.Location,
		ArrivalRadiusM:   cfg.ArrivalRadiusM,
		DepartureRadiusM: cfg.DepartureRadiusM,
	})
	mgr := tracker.NewManager(svc, cfg.EvalInterval, cfg.TripsRefreshInterval, mcol)
	svc.SetNotifier(mgr)
	mgr.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(svc, mcol.Handler()).Handler(os.Stdout),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api server error: %v", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	// Allow graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	mgr.Stop()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

func initLogging() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Printf("using in-memory store; records are lost on exit")
		return store.NewMemory(), nil
	case config.BackendRedis:
		return cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	default:
		if cfg.MigrateOnStart {
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return db.NewPostgres(sqlDB), nil
	}
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

type discardPublisher struct{}

func (discardPublisher) PublishTrip(model.Trip) error               { return nil }
func (discardPublisher) PublishWaitRequest(model.WaitRequest) error { return nil }
func (discardPublisher) PublishAbsence(model.Absence) error         { return nil }
func (discardPublisher) PublishStopState(string, time.Time, waitstate.StopState) error {
	return nil
}
