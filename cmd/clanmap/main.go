package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/clanmap/clanmap/internal/api"
	"github.com/clanmap/clanmap/internal/config"
	"github.com/clanmap/clanmap/internal/database"
	"github.com/clanmap/clanmap/internal/logging"
	"github.com/clanmap/clanmap/internal/registry"
	"github.com/clanmap/clanmap/internal/watcher"
	"github.com/clanmap/clanmap/pkg/core"
	"github.com/rs/zerolog"
)

const (
	AppName         = "clanmap"
	shutdownTimeout = 10 * time.Second
)

var (
	// SlogManager owns the application log handlers
	SlogManager = logging.NewSlogManager()
	// Logger is the application logger
	Logger = SlogManager.Logger()
	// StoreLogger is handed to the database, history and influx managers
	StoreLogger = zerolog.Nop()

	LogFile          *os.File
	LogFilePath      string
	GraylogWriter    *gelf.Writer
	SessionStartTime = time.Now()
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configDir := os.Getenv("CLANMAP_CONFIG_DIR")
	if configDir == "" {
		configDir = "."
	}
	if err := config.Load(configDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	command := "serve"
	if len(args) > 0 {
		command = strings.ToLower(args[0])
		args = args[1:]
	}

	switch command {
	case "serve":
		return serve()
	case "healthcheck":
		return healthcheck()
	case "maps":
		return printMaps()
	case "history":
		if len(args) == 0 {
			fmt.Println("No map ID provided.")
			return 2
		}
		return printHistory(args[0])
	default:
		fmt.Printf("Unknown command %q. Commands: serve, healthcheck, maps, history <mapId>\n", command)
		return 2
	}
}

func setupLogging() error {
	var err error
	LogFile, LogFilePath, err = logging.OpenLogFile(config.GetString("logsDir"), AppName, SessionStartTime)
	if err != nil {
		return err
	}

	level := config.GetString("logLevel")
	var sinks []io.Writer
	if gc := config.GetGraylogConfig(); gc.Enabled {
		GraylogWriter, err = gelf.NewWriter(gc.Address)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Graylog at %s: %v\n", gc.Address, err)
		} else {
			sinks = append(sinks, GraylogWriter)
		}
	}

	SlogManager.Setup(io.MultiWriter(os.Stdout, LogFile), level, sinks...)
	Logger = SlogManager.Logger()
	StoreLogger = logging.NewZerolog(level, os.Stdout, LogFile)

	Logger.Info("Logging to file", "path", LogFilePath)
	return nil
}

func closeLogging() {
	if err := SlogManager.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close log sinks: %v\n", err)
	}
	if LogFile != nil {
		LogFile.Close()
	}
}

func openSource(entry core.MapEntry) (registry.Source, error) {
	db, err := database.OpenGameDB(
		entry.SourcePath,
		config.GetBusyTimeout(),
		StoreLogger.With().Str("map", entry.ID).Logger(),
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func newNotifier(entry core.MapEntry) (registry.Notifier, error) {
	w, err := watcher.New(entry.SourcePath, Logger.With("map", entry.ID))
	if err != nil {
		return nil, err
	}
	return w, nil
}

func serve() int {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer closeLogging()

	Logger.Info("Starting up...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := initObservers(ctx)
	if err != nil {
		Logger.Error("Failed to initialize observers", "error", err)
		return 1
	}
	defer obs.Close()

	reg := registry.New(registry.Dependencies{
		OpenSource:   openSource,
		NewNotifier:  newNotifier,
		Logger:       Logger,
		RefreshDelay: config.GetRefreshDelay(),
		Observers:    obs.List(),
	})
	defer func() {
		if err := reg.Close(); err != nil {
			Logger.Error("Failed to close maps", "error", err)
		}
	}()

	maps, err := config.GetMaps()
	if err != nil {
		Logger.Error("Invalid map configuration", "error", err)
		return 1
	}
	if len(maps) == 0 {
		Logger.Warn("No databases configured")
	}
	for _, m := range maps {
		if obs.History != nil {
			if err := obs.History.RegisterMap(m.Entry(m.ID)); err != nil {
				Logger.Error("Failed to store map in history", "map", m.ID, "error", err)
			}
		}
		if err := reg.Register(ctx, m.ID, m.MapConfig); err != nil {
			Logger.Error("Failed to register map", "map", m.ID, "error", err)
			return 1
		}
	}

	opts := []api.Option{
		api.WithStaticDir(config.GetString("staticDir")),
		api.WithLogger(Logger),
	}
	if obs.History != nil {
		opts = append(opts, api.WithHistory(obs.History))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.GetInt("port")),
		Handler:           api.NewServer(reg, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Info("Server started", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			Logger.Error("Server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		Logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Logger.Error("Server shutdown failed", "error", err)
		}
	}
	return 0
}

// localClient talks to the server configured in the config file.
func localClient() *api.Client {
	return api.NewClient(fmt.Sprintf("http://127.0.0.1:%d", config.GetInt("port")))
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func healthcheck() int {
	ctx, cancel := withTimeout()
	defer cancel()
	if err := localClient().Healthcheck(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("OK")
	return 0
}

func printMaps() int {
	ctx, cancel := withTimeout()
	defer cancel()

	c := localClient()
	maps, err := c.Maps(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, m := range maps {
		clans, err := c.Clans(ctx, m.ID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		bases := 0
		for _, cl := range clans {
			bases += len(cl.Bases)
		}
		fmt.Printf("%-12s %-24s %-14s clans=%d bases=%d\n", m.ID, m.Name, m.Type, len(clans), bases)
	}
	return 0
}
