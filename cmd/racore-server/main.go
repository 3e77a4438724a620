// Command racore-server is the CLI entry point for the on-device inference
// runtime core described in spec §6. Its HTTP handlers are intentionally out
// of scope — this binary's job is the CLI surface and process lifecycle
// (load the default model, bind the listen address, serve health checks,
// shut down cleanly), not the capability-service API itself.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runanywhere/racore/internal/config"
	"github.com/runanywhere/racore/internal/health"
	"github.com/runanywhere/racore/internal/observe"
	"github.com/runanywhere/racore/internal/rlog"
	"github.com/runanywhere/racore/pkg/provider/llm/anyllm"
)

// Exit codes per spec §6.
const (
	exitOK          = 0
	exitUsage       = 1
	exitModelLoad   = 2
	exitBindFailure = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("racore-server", flag.ContinueOnError)
	modelPath := fs.String("model", "", "path to the default model file")
	host := fs.String("host", "0.0.0.0", "address to bind the server to")
	port := fs.Int("port", 8080, "port to bind the server to")
	threads := fs.Int("threads", 0, "CPU inference thread count (0 = backend default)")
	contextSize := fs.Int("context", 0, "token context window (0 = model default)")
	gpuLayers := fs.Int("gpu-layers", 0, "number of model layers to offload to GPU")
	cors := fs.Bool("cors", false, "enable permissive CORS headers")
	noCORS := fs.Bool("no-cors", false, "explicitly disable CORS headers (overrides --cors)")
	verbose := fs.Bool("verbose", false, "enable debug-level logging")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "racore-server — on-device inference runtime core")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg := &config.ServerConfig{
		ListenHost:  *host,
		ListenPort:  *port,
		ModelPath:   *modelPath,
		Threads:     *threads,
		ContextSize: *contextSize,
		GPULayers:   *gpuLayers,
		CORS:        *cors && !*noCORS,
		LogLevel:    config.LogInfo,
	}
	if *verbose {
		cfg.LogLevel = config.LogDebug
	}

	logger := rlog.SetDefault(cfg.LogLevel)
	logger.Info("racore-server starting",
		"host", cfg.ListenHost,
		"port", cfg.ListenPort,
		"model", cfg.ModelPath,
		"cors", cfg.CORS,
	)

	shutdownObserve, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "racore-server"})
	if err != nil {
		logger.Error("failed to initialise observability provider", "err", err)
		return exitUsage
	}
	defer func() { _ = shutdownObserve(context.Background()) }()
	metrics := observe.DefaultMetrics()

	if cfg.ModelPath != "" {
		if err := loadDefaultModel(cfg); err != nil {
			logger.Error("failed to load default model", "model", cfg.ModelPath, "err", err)
			return exitModelLoad
		}
		logger.Info("default model loaded", "model", cfg.ModelPath)
	}

	addr := net.JoinHostPort(cfg.ListenHost, fmt.Sprintf("%d", cfg.ListenPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to bind listen address", "addr", addr, "err", err)
		return exitBindFailure
	}

	mux := http.NewServeMux()
	health.New(health.Checker{Name: "model", Check: func(context.Context) error { return nil }}).Register(mux)
	srv := &http.Server{Handler: observe.Middleware(metrics)(mux)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	logger.Info("server ready", "addr", addr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve error", "err", err)
			return exitUsage
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		return exitUsage
	}
	logger.Info("goodbye")
	return exitOK
}

// loadDefaultModel attempts to construct an LLM provider for the configured
// model path, surfacing a load failure as spec §6's exit code 2. gguf model
// paths are routed to the llama.cpp backend, matching
// modelregistry's extension-based framework discovery for that suffix.
func loadDefaultModel(cfg *config.ServerConfig) error {
	_, err := anyllm.NewLlamaCpp(cfg.ModelPath)
	return err
}
