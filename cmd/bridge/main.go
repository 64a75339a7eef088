// Command bridge relays Clue-less events between clients and the game engine.
//
// With -transport=stdio it speaks newline-delimited JSON on stdin/stdout, for
// use as a child process. With -transport=ws it serves browsers directly.
// Logs always go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/clueless_bridge/internal/broadcast"
	"example.com/clueless_bridge/internal/config"
	"example.com/clueless_bridge/internal/dispatch"
	"example.com/clueless_bridge/internal/game/scripted"
	"example.com/clueless_bridge/internal/health"
	"example.com/clueless_bridge/internal/journal"
	"example.com/clueless_bridge/internal/telemetry"
	"example.com/clueless_bridge/internal/transport"
	"example.com/clueless_bridge/internal/ws"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	// stdout may be the game channel
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg, logger.Named("otel"))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	engine, err := loadEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	bopts := []broadcast.Option{broadcast.WithLogger(logger.Named("broadcast"))}
	var recorder broadcast.Recorder
	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
		bopts = append(bopts, broadcast.WithRecorder(store))
		logger.Info("journal enabled", zap.String("path", cfg.JournalPath))
	}

	var (
		lines <-chan []byte
		out   broadcast.Outbound
	)
	switch cfg.Transport {
	case config.TransportWS:
		hub := ws.NewHub(cfg.OriginAllowlist, cfg.InboundQueue, logger.Named("ws"))
		defer hub.Close()
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: hub.Handler()}
		go func() {
			logger.Info("websocket gateway listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		lines, out = hub.Lines(), hub
	default:
		lines = transport.ReadLines(ctx, os.Stdin, cfg.InboundQueue, logger.Named("stdin"))
		out = transport.NewLineWriter(os.Stdout)
	}

	b := broadcast.New(out, bopts...)
	defer b.Close()

	loopCfg := dispatch.Config{
		Quorum:       cfg.Quorum,
		Mode:         mode,
		PushInterval: cfg.PushInterval,
		NotifyErrors: cfg.NotifyErrors,
		ExitOnEmpty:  cfg.ExitOnEmpty,
		Logger:       logger.Named("dispatch"),
		Recorder:     recorder,
	}

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		hs := health.New()
		go func() {
			logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
			if err := hs.Serve(lis); err != nil {
				logger.Error("grpc health server", zap.Error(err))
			}
		}()
		defer hs.Stop()
		loopCfg.OnStateChange = hs.OnStateChange
	}

	err = dispatch.New(engine, b, loopCfg).Run(ctx, lines)
	logger.Info("dispatch loop stopped", zap.Uint64("envelopes_sent", b.Sent()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadEngine(cfg config.Config, logger *zap.Logger) (*scripted.Engine, error) {
	opts := []scripted.Option{scripted.WithLogger(logger.Named("engine"))}
	if cfg.RulesSeed != 0 {
		opts = append(opts, scripted.WithSeed(cfg.RulesSeed))
	}
	if cfg.RulesScript == "" {
		logger.Info("loading bundled ruleset")
		return scripted.LoadBundled(opts...)
	}
	logger.Info("loading ruleset", zap.String("path", cfg.RulesScript))
	return scripted.Load(cfg.RulesScript, opts...)
}
