package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/models"
)

// ReplayConfig controls how recorded readings are fed into the buffer
type ReplayConfig struct {
	// DefaultSensorID is used for lines without a sensor_id
	DefaultSensorID string
	// Interval paces the feed; 0 feeds as fast as the buffer accepts
	Interval time.Duration
	// Restamp replaces every timestamp with the wall clock
	Restamp bool
}

// ReplayStats summarises one replay
type ReplayStats struct {
	Lines   int
	Queued  int
	Skipped int
	Refused int
}

// Replay reads one JSON reading per line from r and pushes it into buf.
// Blank lines and lines starting with # are ignored; undecodable lines are
// logged and skipped.
func Replay(ctx context.Context, r io.Reader, buf *ReadingBuffer, cfg ReplayConfig, logger zerolog.Logger) (ReplayStats, error) {
	var st ReplayStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var ticker *time.Ticker
	if cfg.Interval > 0 {
		ticker = time.NewTicker(cfg.Interval)
		defer ticker.Stop()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		st.Lines++

		var reading models.Reading
		if err := json.Unmarshal([]byte(line), &reading); err != nil {
			logger.Warn().Err(err).Int("line", st.Lines).Msg("Skipping undecodable reading")
			st.Skipped++
			continue
		}
		if reading.SensorID == "" {
			reading.SensorID = cfg.DefaultSensorID
		}
		if cfg.Restamp || reading.Timestamp.IsZero() {
			reading.Timestamp = time.Now()
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return st, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return st, err
		}

		if buf.Push(&reading) {
			st.Queued++
		} else {
			st.Refused++
		}
	}
	if err := scanner.Err(); err != nil {
		return st, fmt.Errorf("failed to read replay input: %w", err)
	}
	return st, nil
}
