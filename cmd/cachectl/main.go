package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/httpcache/admin"
	"github.com/always-cache/httpcache/cache"
	"github.com/always-cache/httpcache/metrics"
)

var (
	// CLI flags
	configFlag         string
	backendFlag        string
	pathFlag           string
	addrFlag           string
	verbosityTraceFlag bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Config file (yaml)")
	flag.StringVar(&backendFlag, "backend", "", "Storage backend: memory, sqlite or leveldb (overrides config)")
	flag.StringVar(&pathFlag, "path", "", "Database file or directory (overrides config)")
	flag.StringVar(&addrFlag, "addr", ":8081", "Address for the admin endpoint (serve)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] keys|show METHOD URI|purge METHOD URI|clear|serve\n", os.Args[0])
		flag.PrintDefaults()
	}

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Str("version", version).Logger()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if args[0] == "serve" {
		config.Metrics = metrics.New()
	}
	storage, err := cache.Open(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open storage")
	}
	defer storage.Close()

	if err := run(storage, config, args); err != nil {
		log.Error().Err(err).Msg("Command failed")
		storage.Close()
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (cache.Config, error) {
	var config cache.Config
	if configFlag != "" {
		var err error
		if config, err = cache.LoadConfig(configFlag); err != nil {
			return config, err
		}
	}
	if backendFlag != "" {
		config.Backend = backendFlag
	}
	if pathFlag != "" {
		config.Path = pathFlag
	}
	if config.Backend == "" {
		config.Backend = cache.BackendMemory
	}
	return config, config.Validate()
}

func run(storage cache.Storage, config cache.Config, args []string) error {
	ctx := context.Background()
	switch args[0] {
	case "keys":
		var keys []string
		err := storage.Keys(ctx, func(key cache.Key) {
			keys = append(keys, key.String())
		})
		if err != nil {
			return err
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	case "show":
		key, err := keyArg(args)
		if err != nil {
			return err
		}
		return show(ctx, storage, key)
	case "purge":
		key, err := keyArg(args)
		if err != nil {
			return err
		}
		if err := storage.Invalidate(ctx, key); err != nil {
			return err
		}
		log.Info().Str("key", key.String()).Msg("Purged")
		return nil
	case "clear":
		if err := storage.Clear(ctx); err != nil {
			return err
		}
		log.Info().Msg("Cleared cache")
		return nil
	case "serve":
		return serve(storage, config.Metrics)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func keyArg(args []string) (cache.Key, error) {
	if len(args) != 3 {
		return cache.Key{}, fmt.Errorf("%s needs METHOD and URI", args[0])
	}
	u, err := url.Parse(args[2])
	if err != nil {
		return cache.Key{}, err
	}
	return cache.NewKey(args[1], u)
}

func show(ctx context.Context, storage cache.Storage, key cache.Key) error {
	item, ok, err := storage.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not cached", key)
	}
	defer item.Release()
	for id, sr := range item.Variants {
		fmt.Printf("# variant %q stored at %s\n", id, sr.StoredAt.Format(time.RFC3339))
		fmt.Println(sr.Response.StatusLine())
		for _, h := range sr.Response.Headers().All() {
			fmt.Printf("%s: %s\n", h.Name, h.Value)
		}
		body, _, err := sr.Response.Bytes()
		if err != nil {
			return err
		}
		fmt.Printf("\n%d bytes\n\n", len(body))
	}
	return nil
}

func serve(storage cache.Storage, m *metrics.Metrics) error {
	srv := &http.Server{
		Addr:    addrFlag,
		Handler: admin.NewRouter(storage, m),
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("Serving admin endpoint on %s", addrFlag)
		errc <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-stop:
	}

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
