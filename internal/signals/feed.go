package signals

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tokenfolio/internal/position"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
	readTimeout        = 90 * time.Second
	pingInterval       = 30 * time.Second
)

// Feed consumes the upstream trend-signal websocket and keeps the latest
// validated snapshot per position. It implements Source; the tick loops read
// from the cache so a slow or dead feed degrades to holds, never to a stall.
type Feed struct {
	url    string
	logger zerolog.Logger

	mu     sync.RWMutex
	latest map[string]*Snapshot // key = token/chain/timeframe

	dropped int64
}

// NewFeed creates a signal feed client for the given websocket URL.
func NewFeed(url string, logger zerolog.Logger) *Feed {
	return &Feed{
		url:    url,
		logger: logger.With().Str("component", "SignalFeed").Logger(),
		latest: make(map[string]*Snapshot),
	}
}

// Fetch returns the latest snapshots for a timeframe.
func (f *Feed) Fetch(tf position.Timeframe) map[string]*Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]*Snapshot)
	for k, snap := range f.latest {
		if snap.Timeframe == tf {
			out[k] = snap
		}
	}
	return out
}

// Run connects and consumes frames until the context is cancelled,
// reconnecting with exponential backoff on any failure.
func (f *Feed) Run(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}

		err := f.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.logger.Warn().
				Err(err).
				Dur("retry_in", delay).
				Msg("Signal feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// consume runs one websocket session.
func (f *Feed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.logger.Info().Str("url", f.url).Msg("Signal feed connected")

	// Keepalive pings; upstream closes idle connections.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleFrame(msg)
	}
}

// handleFrame decodes and validates one snapshot frame. Malformed frames are
// counted and dropped; they never reach the planner.
func (f *Feed) handleFrame(msg []byte) {
	var snap Snapshot
	if err := json.Unmarshal(msg, &snap); err != nil {
		f.drop("unmarshal", err)
		return
	}
	if snap.ReceivedAt.IsZero() {
		snap.ReceivedAt = time.Now()
	}
	if err := snap.Validate(); err != nil {
		f.drop(snap.Key(), err)
		return
	}

	f.mu.Lock()
	f.latest[snap.Key()] = &snap
	f.mu.Unlock()
}

func (f *Feed) drop(key string, err error) {
	f.mu.Lock()
	f.dropped++
	n := f.dropped
	f.mu.Unlock()

	f.logger.Warn().
		Err(err).
		Str("key", key).
		Int64("dropped_total", n).
		Msg("Dropped malformed signal frame")
}

// DroppedFrames returns the number of frames rejected at the boundary.
func (f *Feed) DroppedFrames() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}
