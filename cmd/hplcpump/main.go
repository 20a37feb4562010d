package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/hplc-pump/internal/logger"
	"github.com/shaunagostinho/hplc-pump/internal/publish"
	"github.com/shaunagostinho/hplc-pump/internal/pump"
	"github.com/shaunagostinho/hplc-pump/internal/server"
	"github.com/shaunagostinho/hplc-pump/internal/transport"
)

func main() {
	configPath := flag.String("config", "/etc/hplc-pump/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run against a simulated pump")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Pump.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	log := setupLogging(cfg.Log)
	log.Info("[main] hplc-pump starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("[main] received %v, shutting down", sig)
		cancel()
	}()

	schemas, err := cfg.LoadSchemas()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	opts := []pump.Option{
		pump.WithName(cfg.PumpName()),
		pump.WithLogger(logger.NewTrace(log).With("pump", cfg.PumpName())),
		pump.WithSchemas(schemas),
		pump.WithEngineOptions(cfg.EngineOptions()...),
	}

	var open func() (*pump.Pump, error)
	switch cfg.Pump.Type {
	case "demo":
		open = func() (*pump.Pump, error) {
			return pump.New(transport.NewSimulator(cfg.Simulator), opts...)
		}
	default:
		open = func() (*pump.Pump, error) {
			return pump.Open(cfg.Serial, opts...)
		}
	}

	p := connectWithRetry(ctx, log, "pump", open, 10)
	if p == nil {
		return
	}
	log.Infof("[pump] %s, head %s, max %.3g mL/min, max pressure %g %s",
		p.Version(), p.Head(), p.MaxFlowrate(), p.MaxPressure(), p.PressureUnits())

	var pub server.StatusPublisher
	if cfg.Redis.Enabled {
		rp, err := publish.NewPublisher(ctx, cfg.Redis, log)
		if err != nil {
			log.Warnf("[main] redis publishing disabled: %v", err)
		} else {
			defer rp.Close()
			pub = rp
		}
	}

	srv := server.New(cfg, p, pub, log)
	if err := srv.Run(ctx); err != nil {
		log.Errorf("[main] server exited: %v", err)
	}
}

// setupLogging configures the standard logrus logger from the config.
func setupLogging(cfg server.LogConfig) *logrus.Logger {
	log := logrus.StandardLogger()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// connectWithRetry attempts to open the pump with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely. Returns nil once ctx is done.
func connectWithRetry(ctx context.Context, log *logrus.Logger, name string, open func() (*pump.Pump, error), maxAttempts int) *pump.Pump {
	return retry(ctx, log, name, open, maxAttempts, time.Second, 60*time.Second)
}

func retry(ctx context.Context, log *logrus.Logger, name string, open func() (*pump.Pump, error), maxAttempts int, delay, maxDelay time.Duration) *pump.Pump {
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		p, err := open()
		if err == nil {
			log.Infof("[%s] connected successfully (attempt %d)", name, attempt+1)
			return p
		}

		attempt++
		if attempt <= maxAttempts {
			log.Warnf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				name, attempt, maxAttempts, err, delay)
		} else {
			log.Warnf("[%s] connect attempt %d failed: %v (retry in %v)",
				name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
