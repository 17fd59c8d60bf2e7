package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/dht"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/distributor"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/peers"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/profiling"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/receiver"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/store"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/transfer"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("peer exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("peer stopped")
}

func run(cfg *config.Config) error {
	self := cfg.DHT.PeerID
	position := ring.Of(self)
	if cfg.DHT.RingPosition != "" {
		p, err := ring.Parse(cfg.DHT.RingPosition)
		if err != nil {
			return fmt.Errorf("parsing dht.ringPosition: %w", err)
		}
		position = p
	}
	slog.Info("starting peer", "peer_id", self, "ring_position", position)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	checker.Register("postgres", health.PingCheck(db.Ping))

	cache, err := redis.NewClient(cfg.Redis, "dht:"+self)
	if err != nil {
		return err
	}
	defer cache.Close()
	checker.Register("redis", health.PingCheck(cache.Ping))

	ix, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening posting store: %w", err)
	}
	defer func() {
		if err := ix.Close(); err != nil {
			slog.Error("closing posting store", "error", err)
		}
	}()
	ix.StartMaintenance(ctx)
	checker.Register("store", storeCheck(cfg.Store.DataDir, ix))
	checker.Register("store-segments", health.Threshold(func() int { return ix.Stats().Segments }, 2*cfg.Store.MaxSegmentsBeforeMerge, 0))

	docs := resolver.NewCached(resolver.NewPostgres(db), cache, cfg.Redis.CacheTTL)
	// Rows may have changed while the peer was down.
	if err := docs.Invalidate(ctx); err != nil {
		slog.Warn("clearing document cache failed", "error", err)
	}

	seeds, err := peers.FromSeeds(cfg.DHT.SeedPeers)
	if err != nil {
		return fmt.Errorf("reading seed peers: %w", err)
	}
	directory := peers.NewDirectory(self, seeds)
	registry := peers.NewPostgresSource(db, 3*cfg.DHT.PeerRefreshInterval)
	announce := func(ctx context.Context) {
		err := registry.Announce(ctx, peers.Peer{
			ID:           self,
			Position:     position,
			Address:      cfg.DHT.Address,
			AcceptsIndex: true,
		})
		if err != nil {
			slog.Warn("announcing peer failed", "error", err)
		}
	}
	announce(ctx)
	if err := directory.Refresh(ctx, registry); err != nil {
		slog.Warn("initial peer refresh failed, using seed peers", "error", err, "seeds", len(seeds))
	}
	directory.StartRefresh(ctx, registry, cfg.DHT.PeerRefreshInterval)

	controller := dht.NewController(ix.Fast(), ix.Full(), docs, directory, cfg.DHT)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexTransfer)
	defer producer.Close()
	sink := transfer.NewKafkaSink(producer, cfg.Transfer, m)
	dispatcher := transfer.NewDispatcher(self, sink, cfg.Transfer, m)

	recv := receiver.New(self, ix, docs, m)
	transferConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexTransfer, recv.HandleEnvelope())
	defer transferConsumer.Close()
	ingestConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, recv.HandleIngest())
	defer ingestConsumer.Close()

	var recorder distributor.Recorder
	if cfg.Profiling.Enabled {
		profiler := profiling.New(cfg.Profiling, m)
		profiler.Start(ctx)
		defer profiler.Stop()
		recorder = profiler
	}
	dist := distributor.New(controller, dispatcher, ix, recorder, m, cfg.DHT)

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer, checker)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Start(gctx) })
	g.Go(func() error { return transferConsumer.Start(gctx) })
	g.Go(func() error { return ingestConsumer.Start(gctx) })
	g.Go(func() error { return dist.Start(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(cfg.DHT.PeerRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				announce(gctx)
			}
		}
	})

	slog.Info("peer ready",
		"peers", directory.Len(),
		"transfer_topic", cfg.Kafka.Topics.IndexTransfer,
		"ingest_topic", cfg.Kafka.Topics.DocumentIngest,
	)
	return g.Wait()
}

func storeCheck(dataDir string, ix *store.Index) health.Check {
	return func(context.Context) health.ComponentHealth {
		if _, err := os.Stat(dataDir); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		st := ix.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d segments, %d hot terms", st.Segments, st.HotTerms),
		}
	}
}
