package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sushant-115/gojobuf/config"
	"github.com/sushant-115/gojobuf/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	"github.com/sushant-115/gojobuf/pkg/logger"
	"github.com/sushant-115/gojobuf/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	configPath     = flag.String("config", "", "Path to a YAML config file")
	dataDir        = flag.String("data_dir", "/tmp/gojobuf", "Directory holding the bench table file")
	workers        = flag.Int("workers", 8, "Number of concurrent workers")
	pagesPerWorker = flag.Int("pages_per_worker", 200, "Distinct pages owned by each worker")
	ops            = flag.Int("ops", 5000, "Page operations per worker")
	pinEvery       = flag.Int("pin_every", 0, "Pin every n-th page touched; 0 never pins")
	seed           = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	numPages       = flag.Int("num_pages", 0, "Working set size in pages (overrides config)")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("CRITICAL: %v", err)
		}
	}
	if *numPages > 0 {
		cfg.Buffer.NumPages = *numPages
	}

	if err := checkPageSize(cfg.Buffer.PageSize); err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("CRITICAL: Can't initialize zap logger: %v", err)
	}
	defer zlogger.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		zlogger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer shutdown(context.Background())

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		zlogger.Fatal("Failed to create data directory", zap.String("path", *dataDir), zap.Error(err))
	}
	tablePath := filepath.Join(*dataDir, "bench.tbl")
	// every run starts from an empty table so signatures are not stale
	if err := os.Remove(tablePath); err != nil && !os.IsNotExist(err) {
		zlogger.Fatal("Failed to reset bench table", zap.Error(err))
	}
	table := flushmanager.NewTable("bench", tablePath)

	opts := append(cfg.Buffer.Options(),
		bufferpool.WithLogger(zlogger),
		bufferpool.WithMeter(tel.Meter),
		bufferpool.WithTracer(tel.Tracer),
	)
	mgr, err := bufferpool.New(cfg.Buffer.PageSize, cfg.Buffer.NumPages, cfg.Buffer.TempFilePath(), opts...)
	if err != nil {
		zlogger.Fatal("Failed to create buffer manager", zap.Error(err))
	}

	w := workload{PagesPerWorker: *pagesPerWorker, Ops: *ops, PinEvery: *pinEvery, Seed: *seed}
	args := make([]any, *workers)
	for i := range args {
		args[i] = i
	}

	zlogger.Info("Starting bench",
		zap.Int("workers", *workers),
		zap.Int("pages_per_worker", w.PagesPerWorker),
		zap.Int("ops", w.Ops),
		zap.Uint64("seed", w.Seed),
	)
	ctx := context.Background()
	start := time.Now()
	err = mgr.ExecuteThreads(ctx, func(ctx context.Context, arg any) error {
		return runWorker(ctx, mgr, table, arg.(int), w)
	}, args)
	elapsed := time.Since(start)
	if err != nil {
		_ = mgr.Close()
		zlogger.Fatal("Bench failed", zap.Error(err))
	}
	if err := mgr.FlushAll(ctx); err != nil {
		zlogger.Error("Final flush failed", zap.Error(err))
	}

	st := mgr.Stats()
	total := *workers * w.Ops
	zlogger.Info("Bench finished",
		zap.Duration("elapsed", elapsed),
		zap.Float64("ops_per_sec", float64(total)/elapsed.Seconds()),
		zap.Int64("fast_path_hits", st.FastPathHits),
		zap.Int64("warm_accesses", st.WarmAccesses),
		zap.Int64("cold_loads", st.ColdLoads),
		zap.Int64("evictions", st.Evictions),
		zap.Int64("write_backs", st.WriteBacks),
		zap.Int64("exhaustions", st.Exhaustions),
	)
	if err := mgr.Close(); err != nil {
		zlogger.Error("Failed to close buffer manager", zap.Error(err))
	}
}
