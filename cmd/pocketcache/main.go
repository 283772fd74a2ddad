package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pocketcache/internal/cache"
	"pocketcache/internal/engine"
	"pocketcache/internal/logging"
	"pocketcache/internal/store"
	"pocketcache/internal/store/badgerstore"
	"pocketcache/internal/store/sqlitestore"
	"pocketcache/pkg/config"
)

var (
	configPath  = flag.String("config", "configs/pocketcache.yaml", "Path to configuration file")
	clientID    = flag.String("client-id", "", "Unique client identifier")
	storeDriver = flag.String("store", "", "Backing store driver (memory, badger, sqlite)")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (watch mode)")

	ttlFlag      = flag.Duration("ttl", 0, "TTL for put (0 uses the configured default)")
	priorityFlag = flag.String("priority", "low", "Priority for put (low, medium, high)")
	dataTypeFlag = flag.String("data-type", "", "Data type label for put")
	encryptFlag  = flag.Bool("encrypt", false, "Force encryption for put")
	windowFlag   = flag.Duration("window", 15*time.Minute, "Window for trend analysis")
	newSecret    = flag.String("new-master-secret", "", "Replace the master secret during rotate-keys")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: pocketcache [flags] <command> [args]

Commands:
  put <key> <value>   Store a value
  get <key>           Read a value
  remove <key>        Delete a key
  keys                List cached keys
  stats               Print the performance snapshot
  recommend           Print tuning recommendations
  trend               Compare recent and earlier hit rates
  optimize            Run one optimization pass
  rotate-keys         Rotate the encryption key generation
  clear               Drop every cached entry
  watch               Run the engine until interrupted

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	command := args[0]

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Early error before logging is initialized
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override with command line flags
	if *clientID != "" {
		cfg.Client.ID = *clientID

		// Use client-specific data directory
		cfg.Client.DataDir = fmt.Sprintf("%s/%s", cfg.Client.DataDir, *clientID)
	}
	if *storeDriver != "" {
		cfg.Store.Driver = *storeDriver
	}

	// Initialize structured logging system
	logger, err := logging.InitializeFromConfig(cfg.Client.ID, logging.LogConfig{
		Level:         cfg.Logging.Level,
		EnableConsole: cfg.Logging.EnableConsole,
		EnableFile:    cfg.Logging.EnableFile,
		LogFile:       cfg.Logging.LogFile,
		BufferSize:    cfg.Logging.BufferSize,
		LogDir:        cfg.Logging.LogDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx := logging.WithCorrelationID(context.Background(), logging.NewCorrelationID())

	// Ensure data directory exists
	if cfg.Store.Driver != "memory" {
		if err := os.MkdirAll(cfg.Client.DataDir, 0755); err != nil {
			logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "Failed to create data directory", err)
			os.Exit(1)
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "Failed to open backing store", err)
		fmt.Fprintf(os.Stderr, "FATAL: Failed to open backing store: %v\n", err)
		os.Exit(1)
	}

	engineCfg, err := engine.FromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Invalid cache configuration: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.New(ctx, engineCfg, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to start cache engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	if err := run(ctx, eng, cfg, command, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		eng.Close()
		logger.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, eng *engine.Engine, cfg *config.Config, command string, args []string) error {
	switch command {
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("usage: put <key> <value>")
		}
		priority, err := cache.ParsePriority(*priorityFlag)
		if err != nil {
			return err
		}
		opts := engine.PutOptions{
			TTL:          *ttlFlag,
			Priority:     priority,
			DataType:     *dataTypeFlag,
			ForceEncrypt: *encryptFlag,
		}
		if err := eng.Put(ctx, args[0], args[1], opts); err != nil {
			return err
		}
		fmt.Printf("OK %s\n", args[0])
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <key>")
		}
		value, found, err := eng.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key not found: %s", args[0])
		}
		fmt.Printf("%v\n", value)
		return nil

	case "remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: remove <key>")
		}
		removed, err := eng.Remove(ctx, args[0])
		if err != nil {
			return err
		}
		if removed {
			fmt.Printf("Removed %s\n", args[0])
		} else {
			fmt.Printf("Not cached: %s\n", args[0])
		}
		return nil

	case "keys":
		for _, key := range eng.Keys() {
			fmt.Println(key)
		}
		return nil

	case "stats":
		return printJSON(eng.Stats())

	case "recommend":
		recommendations := eng.Recommendations()
		if len(recommendations) == 0 {
			fmt.Println("Cache is healthy, nothing to tune")
			return nil
		}
		return printJSON(recommendations)

	case "trend":
		return printJSON(eng.AnalyzeTrend(*windowFlag))

	case "optimize":
		report, err := eng.Optimize(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "rotate-keys":
		if err := eng.RotateKeys(ctx, *newSecret); err != nil {
			return err
		}
		fmt.Println("Key generation rotated")
		return nil

	case "clear":
		if err := eng.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Println("Cache cleared")
		return nil

	case "watch":
		return watch(ctx, eng, cfg)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "badger":
		return badgerstore.New(badgerstore.DefaultConfig(cfg.StorePath()))
	case "sqlite":
		return sqlitestore.New(sqlitestore.DefaultConfig(cfg.StorePath()))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// watch keeps the engine running so the background sweeps, scheduled
// optimization passes and prefetching do their work, and optionally
// serves Prometheus metrics.
func watch(ctx context.Context, eng *engine.Engine, cfg *config.Config) error {
	fmt.Printf("🚀 PocketCache engine running: %s\n", cfg.Client.ID)
	fmt.Printf("💾 Store: %s (%s)\n", cfg.Store.Driver, cfg.StorePath())
	fmt.Printf("📦 Budget: %s / %d entries\n", cfg.Cache.MaxSize, cfg.Cache.MaxCount)

	eng.OnPressure(func(level engine.PressureLevel, utilization float64) {
		fmt.Printf("⚠️  Memory pressure %s (%.0f%% of budget)\n", level, utilization*100)
	})
	unsubscribe := eng.OnNetworkChange(func(online bool) {
		if online {
			fmt.Println("📡 Network online, prefetching resumes")
		} else {
			fmt.Println("📴 Network offline, prefetching paused")
		}
	})
	defer unsubscribe()

	var server *http.Server
	serverErr := make(chan error, 1)
	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(eng.Collector())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			stats := eng.Stats()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"healthy":     true,
				"client_id":   cfg.Client.ID,
				"total_items": stats.TotalItems,
				"hit_rate":    stats.HitRate,
			})
		})

		server = &http.Server{Addr: *metricsAddr, Handler: logging.HTTPMiddleware(mux)}
		go func() {
			fmt.Printf("🌐 Metrics server listening on %s\n", *metricsAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	// Wait for interrupt signal for graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	report := time.NewTicker(30 * time.Second)
	defer report.Stop()

	for {
		select {
		case <-c:
			fmt.Printf("\n🛑 Shutting down: %s\n", cfg.Client.ID)
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := server.Shutdown(shutdownCtx)
				cancel()
				if err != nil {
					fmt.Fprintf(os.Stderr, "Metrics server shutdown: %v\n", err)
				}
			}
			return nil
		case err := <-serverErr:
			return fmt.Errorf("metrics server failed: %w", err)
		case <-report.C:
			stats := eng.Stats()
			fmt.Printf("📊 %d entries, %.1f%% hit rate, %.0f%% of budget\n",
				stats.TotalItems, stats.HitRate*100, stats.MemoryUtilization*100)
		}
	}
}
