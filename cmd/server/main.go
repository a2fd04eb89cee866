package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"

	"github.com/Tyrowin/cipherchat/internal/server"
)

func main() {
	config, err := server.LoadConfig(os.Getenv("CHAT_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := server.NewLogger(config.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting cipherchat relay",
		zap.String("port", config.Port),
		zap.String("default_room", config.DefaultRoom),
		zap.Strings("allowed_origins", config.AllowedOrigins))

	registry, err := server.NewRegistry(config, log)
	if err != nil {
		log.Fatal("failed to create registry", zap.Error(err))
	}

	mux := server.SetupRoutes(registry)
	httpServer := server.CreateServer(config.Port, mux)

	go func() {
		if err := server.StartServer(httpServer, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		config.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(context.Context) error {
				return server.ShutdownServer(httpServer, config.ShutdownTimeout, log)
			},
			"registry": func(context.Context) error {
				return registry.Shutdown(config.ShutdownTimeout)
			},
		},
	)

	exitCode := <-wait
	log.Info("relay exited", zap.Int("exit_code", exitCode))
	_ = log.Sync()
	os.Exit(exitCode)
}
