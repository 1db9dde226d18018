package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojobuf/config"
	"github.com/sushant-115/gojobuf/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	"github.com/sushant-115/gojobuf/pkg/logger"
	"github.com/sushant-115/gojobuf/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	dataDir    = flag.String("data_dir", "/tmp/gojobuf", "Directory holding table files")
	pageSize   = flag.Int("page_size", 0, "Page size in bytes (overrides config)")
	numPages   = flag.Int("num_pages", 0, "Working set size in pages (overrides config)")
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
	if *pageSize > 0 {
		cfg.Buffer.PageSize = *pageSize
	}
	if *numPages > 0 {
		cfg.Buffer.NumPages = *numPages
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
	opts := append(cfg.Buffer.Options(),
		bufferpool.WithLogger(zlogger),
		bufferpool.WithMeter(tel.Meter),
		bufferpool.WithTracer(tel.Tracer),
	)
	mgr, err := bufferpool.New(cfg.Buffer.PageSize, cfg.Buffer.NumPages, cfg.Buffer.TempFilePath(), opts...)
	if err != nil {
		zlogger.Fatal("Failed to create buffer manager", zap.Error(err))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojobuf> ",
		HistoryFile:     filepath.Join(os.TempDir(), "gojobuf_cli.history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("get"), readline.PcItem("pin"),
			readline.PcItem("anon"), readline.PcItem("pinanon"),
			readline.PcItem("read"), readline.PcItem("write"),
			readline.PcItem("unpin"), readline.PcItem("release"),
			readline.PcItem("flush"), readline.PcItem("stats"),
			readline.PcItem("help"), readline.PcItem("exit"),
		),
	})
	if err != nil {
		zlogger.Fatal("Failed to start readline", zap.Error(err))
	}
	defer rl.Close()

	sh := newShell(mgr, *dataDir, rl.Stdout())
	fmt.Fprintln(rl.Stdout(), "GojoBuf CLI. Type 'help' for commands, 'exit' to leave.")
	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			zlogger.Error("Failed to read input", zap.Error(err))
			break
		}

		quit, err := sh.exec(ctx, strings.Fields(line))
		if errors.Is(err, flushmanager.ErrBufferExhausted) {
			sh.releaseAll()
			_ = mgr.Close()
			zlogger.Fatal("Buffer memory exhausted", zap.Error(err))
		}
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "Error: %v\n", err)
		}
		if quit {
			break
		}
	}

	sh.releaseAll()
	if err := mgr.Close(); err != nil {
		zlogger.Error("Failed to close buffer manager", zap.Error(err))
	}
}
