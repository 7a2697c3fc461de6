package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/fire-monitor/internal/client"
	"github.com/afroash/fire-monitor/internal/config"
	"github.com/afroash/fire-monitor/internal/models"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to config file")
	inputPath := flag.String("input", "-", "JSON-lines readings to replay, - for stdin")
	interval := flag.Duration("interval", 0, "delay between replayed readings")
	restamp := flag.Bool("restamp", false, "replace recorded timestamps with the current time")
	drainTimeout := flag.Duration("drain-timeout", 30*time.Second, "how long to wait for results after the input ends")
	flag.Parse()

	cfg, err := config.LoadGatewayConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := cfg.Logging.NewLogger(os.Stdout).With().Str("gateway_id", cfg.Gateway.ID).Logger()
	logger.Info().Str("version", version).Str("config", cfg.String()).Msg("Starting gateway")

	var input io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open input")
		}
		defer f.Close()
		input = f
	}

	buffer := client.NewReadingBuffer(cfg.Buffer.Size, cfg.Buffer.DropOldest)
	conn := client.NewConnection(client.ConnectionConfig{
		URL:                  cfg.Uplink.URL,
		AuthToken:            cfg.Uplink.AuthToken,
		ConnectTimeout:       cfg.Uplink.ConnectTimeout,
		ReconnectInterval:    cfg.Uplink.ReconnectInterval,
		MaxReconnectInterval: cfg.Uplink.MaxReconnectInterval,
		PingInterval:         cfg.Uplink.PingInterval,
		PongTimeout:          cfg.Uplink.PongTimeout,
		BatchSize:            cfg.Buffer.BatchSize,
		FlushInterval:        cfg.Buffer.FlushInterval,
	}, cfg.Gateway.ID, buffer, logger)
	conn.OnResult(func(res models.ResultMessage) { logResults(logger, res) })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := conn.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer conn.Close()

		st, err := client.Replay(gctx, input, buffer, client.ReplayConfig{
			DefaultSensorID: cfg.Gateway.ID,
			Interval:        *interval,
			Restamp:         *restamp,
		}, logger)
		logger.Info().
			Int("lines", st.Lines).
			Int("queued", st.Queued).
			Int("skipped", st.Skipped).
			Int("refused", st.Refused).
			Msg("Input finished")
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		waitForDrain(gctx, conn, *drainTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Gateway exited with error")
	}

	st := conn.Stats()
	logger.Info().
		Int64("readings_sent", st.ReadingsSent).
		Int64("results", st.ResultsReceived).
		Int64("errors", st.ErrorsReceived).
		Str("max_level", st.MaxLevel.String()).
		Str("buffer", buffer.String()).
		Msg("Gateway stopped")
}

// waitForDrain blocks until every buffered reading has been answered
func waitForDrain(ctx context.Context, conn *client.Connection, timeout time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for !conn.Idle() {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			logger.Warn().Dur("timeout", timeout).Msg("Gave up waiting for results")
			return
		case <-ticker.C:
		}
	}
}

// logResults reports alarms at Warn and everything else at Debug
func logResults(logger zerolog.Logger, res models.ResultMessage) {
	for _, r := range res.Results {
		event := logger.Debug()
		if r.IsAlarm() {
			event = logger.Warn()
		}
		event.
			Str("sensor_id", r.SensorID).
			Str("level", r.AlertLevel.String()).
			Float64("fire_probability", r.FireProbability).
			Str("message", r.Message).
			Msg("Detection result")
	}
}
