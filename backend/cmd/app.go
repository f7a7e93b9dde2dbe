package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/config"
	httpServer "github.com/agyn-ub/eth-minority-rule-sub000/backend/server/http"
	websocketServer "github.com/agyn-ub/eth-minority-rule-sub000/backend/server/websocket"
	"github.com/agyn-ub/eth-minority-rule-sub000/backend/service"
	store "github.com/agyn-ub/eth-minority-rule-sub000/backend/storage/memory"
	sw "github.com/agyn-ub/eth-minority-rule-sub000/backend/switch"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	flags := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		configPath = flags.StringP("config", "c", "", "path to yaml config, reloaded on change")
		envFile    = flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	)
	config.RegisterFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	if err := godotenv.Load(*envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Fatal().Err(err).Str("path", *envFile).Msg("failed to load env file")
		}
		logger.Debug().Str("path", *envFile).Msg("env file not found, using process environment")
	}

	resolve := func(path string) (*config.Config, error) {
		return config.Resolve(path, os.LookupEnv, flags)
	}
	cfg, err := resolve(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	lvl, _ := cfg.LogLevel()
	zerolog.SetGlobalLevel(lvl)

	index := store.NewRoomIndex(&logger)
	svc := service.NewService(service.Config{
		RoomIndex:   index,
		Broadcaster: sw.NewSwitch(&logger, index),
		Logger:      &logger,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		RelayService:   svc,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:       &logger,
		RelayService: svc,
		WebSocket:    wsSrv,
		ListenAddr:   cfg.Server.ListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go func() {
		defer wg.Done()
		svc.RunHeartbeat(ctx, cfg.Heartbeat.Interval)
	}()

	if *configPath != "" {
		// only the log level is applied live, everything else needs a restart
		go func() {
			if errW := config.Watch(ctx, *configPath, &logger, resolve, func(c *config.Config) {
				if l, errL := c.LogLevel(); errL == nil {
					zerolog.SetGlobalLevel(l)
				}
			}); errW != nil {
				logger.Error().Err(errW).Msg("config watcher stopped")
			}
		}()
	}

	logger.Info().
		Str("listenAddr", cfg.Server.ListenAddr).
		Dur("heartbeat", cfg.Heartbeat.Interval).
		Str("logLevel", lvl.String()).
		Msg("relay started")

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	svc.CloseAll()
	wg.Wait()
}
