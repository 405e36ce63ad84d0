package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
)

// ChannelConfig holds configuration for the realtime channel.
type ChannelConfig struct {
	// URL is the websocket endpoint, e.g. wss://api.example.com/realtime/v1
	URL string

	// APIKey is passed as a query parameter on dial.
	APIKey string

	// ReconnectMin/Max bound the reconnect backoff after a dropped
	// connection (defaults: 1s / 30s).
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Logger for channel activity (default: stderr logger).
	Logger *log.Logger
}

// Channel is a single logical realtime subscription spanning all tables.
// One websocket connection carries change events for every core table.
type Channel struct {
	url          string
	reconnectMin time.Duration
	reconnectMax time.Duration
	logger       *log.Logger
}

// NewChannel creates a realtime channel.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("channel URL cannot be empty")
	}

	u := cfg.URL
	if cfg.APIKey != "" {
		u += "?apikey=" + cfg.APIKey
	}

	min := cfg.ReconnectMin
	if min <= 0 {
		min = time.Second
	}
	max := cfg.ReconnectMax
	if max <= 0 {
		max = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}

	return &Channel{
		url:          u,
		reconnectMin: min,
		reconnectMax: max,
		logger:       logger,
	}, nil
}

// Subscribe dials the channel and delivers every inbound change event to
// fn until ctx is cancelled. Dropped connections are redialed with
// exponential backoff. Cancelling ctx tears down the channel; that is
// the only unsubscribe mechanism.
func (ch *Channel) Subscribe(ctx context.Context, fn func(ctx context.Context, ev ChangeEvent)) error {
	delay := ch.reconnectMin

	for {
		err := ch.readConnection(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ch.logger.Printf("Channel connection lost: %v (reconnecting in %v)", err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ch.reconnectMax {
			delay = ch.reconnectMax
		}
	}
}

// readConnection dials once and pumps events until the connection drops
// or ctx is cancelled.
func (ch *Channel) readConnection(ctx context.Context, fn func(ctx context.Context, ev ChangeEvent)) error {
	conn, _, err := websocket.Dial(ctx, ch.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial channel: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch.logger.Printf("Channel connected")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("channel read failed: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		var ev ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			ch.logger.Printf("Warning: dropping malformed channel message: %v", err)
			continue
		}
		if ev.Table == "" || ev.Type == "" {
			// Heartbeats and protocol frames carry no table.
			continue
		}

		fn(ctx, ev)
	}
}
