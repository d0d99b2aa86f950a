package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// tickMessage is the wire shape of one streamed price update.
type tickMessage struct {
	Pair  string `json:"pair"`
	Price string `json:"price"`
	TS    int64  `json:"ts"` // Unix milliseconds
}

// subscribeMessage is sent once per connection.
type subscribeMessage struct {
	Op    string   `json:"op"`
	Pairs []string `json:"pairs"`
}

// WSFeed streams price ticks from a WebSocket price service, subscribing
// to the configured pairs and invoking the handler on each tick. It
// reconnects with backoff on disconnect.
type WSFeed struct {
	wsURL   string
	pairs   map[string]domain.TokenPair // by pair key
	cache   domain.PriceCache
	handler PriceHandler
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed that will subscribe to the given pairs.
func NewWSFeed(wsURL string, pairs []domain.TokenPair, cache domain.PriceCache, handler PriceHandler, logger *slog.Logger) *WSFeed {
	byKey := make(map[string]domain.TokenPair, len(pairs))
	for _, p := range pairs {
		byKey[p.Key()] = p
	}
	return &WSFeed{
		wsURL:   wsURL,
		pairs:   byKey,
		cache:   cache,
		handler: handler,
		logger:  logger.With(slog.String("component", "ws_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects, subscribes, and runs until ctx is cancelled. Reconnects
// with backoff on disconnect.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.pairs) == 0 {
		f.logger.Info("no pairs to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ws feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	keys := make([]string, 0, len(f.pairs))
	for key := range f.pairs {
		keys = append(keys, key)
	}
	if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Pairs: keys}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("ws feed subscribed", slog.Int("pairs", len(keys)))

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleTick(ctx, data)
	}
}

func (f *WSFeed) handleTick(ctx context.Context, data []byte) {
	var tick tickMessage
	if err := json.Unmarshal(data, &tick); err != nil {
		f.logger.Debug("malformed tick", slog.String("error", err.Error()))
		return
	}
	pair, ok := f.pairs[tick.Pair]
	if !ok {
		return
	}

	price, err := domain.ParseAmount(tick.Price)
	if err != nil {
		f.logger.Debug("malformed tick price",
			slog.String("pair", tick.Pair),
			slog.String("price", tick.Price),
		)
		return
	}

	ts := time.UnixMilli(tick.TS).UTC()
	if f.cache != nil {
		if err := f.cache.SetPrice(ctx, pair.Key(), price, ts); err != nil {
			f.logger.Warn("price cache write failed",
				slog.String("pair", pair.Slug()),
				slog.String("error", err.Error()),
			)
		}
	}
	f.handler(ctx, pair, price, ts)
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
