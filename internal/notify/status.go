package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Messenger is the editable-message surface of a chat transport.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
}

// defaultStatusThrottle is the minimum interval between edits of a
// status message. Chat APIs rate-limit edits aggressively.
const defaultStatusThrottle = 500 * time.Millisecond

// StatusChannel opens throttled, editable status messages. Delivery is
// best effort: a status update must never fail the operation it is
// narrating, so all transport errors are logged and swallowed.
type StatusChannel struct {
	messenger Messenger
	throttle  time.Duration
	logger    *slog.Logger
}

// NewStatusChannel creates a StatusChannel. A non-positive throttle
// falls back to the default.
func NewStatusChannel(messenger Messenger, throttle time.Duration, logger *slog.Logger) *StatusChannel {
	if throttle <= 0 {
		throttle = defaultStatusThrottle
	}
	return &StatusChannel{
		messenger: messenger,
		throttle:  throttle,
		logger:    logger.With(slog.String("component", "status")),
	}
}

// Open sends the initial line of a status message and returns a handle
// for appending to it. The handle is usable even if the initial send
// failed; later edits are simply dropped.
func (c *StatusChannel) Open(ctx context.Context, chatID int64, line string) *StatusMessage {
	if c == nil {
		return nil
	}
	m := &StatusMessage{
		channel: c,
		chatID:  chatID,
		lines:   []string{line},
	}
	id, err := c.messenger.SendMessage(ctx, chatID, line)
	if err != nil {
		c.logger.Warn("status message open failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		m.dead = true
		return m
	}
	m.messageID = id
	m.lastEdit = time.Now()
	return m
}

// StatusMessage is one editable message being appended to. Appends are
// coalesced: edits land at most once per throttle interval, with the
// final state flushed by Finalize.
type StatusMessage struct {
	channel *StatusChannel
	chatID  int64

	mu        sync.Mutex
	messageID int64
	lines     []string
	lastEdit  time.Time
	dirty     bool
	timer     *time.Timer
	dead      bool
}

// Queue appends a line to the status message. The edit is sent
// immediately if the throttle window has passed, otherwise deferred.
func (m *StatusMessage) Queue(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return
	}
	m.lines = append(m.lines, line)
	m.dirty = true

	elapsed := time.Since(m.lastEdit)
	if elapsed >= m.channel.throttle {
		m.flushLocked()
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.channel.throttle-elapsed, m.flushDeferred)
	}
}

// Finalize appends an optional closing line and flushes whatever is
// pending, bypassing the throttle. The handle must not be used after.
func (m *StatusMessage) Finalize(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return
	}
	if line != "" {
		m.lines = append(m.lines, line)
		m.dirty = true
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dirty {
		m.flushLocked()
	}
	m.dead = true
}

// flushDeferred is the timer callback.
func (m *StatusMessage) flushDeferred() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timer = nil
	if m.dead || !m.dirty {
		return
	}
	m.flushLocked()
}

// flushLocked edits the message to the current joined lines. Callers
// hold m.mu.
func (m *StatusMessage) flushLocked() {
	text := strings.Join(m.lines, "\n")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.channel.messenger.EditMessage(ctx, m.chatID, m.messageID, text); err != nil {
		m.channel.logger.Warn("status message edit failed",
			slog.Int64("chat_id", m.chatID),
			slog.Int64("message_id", m.messageID),
			slog.String("error", err.Error()),
		)
	}
	m.lastEdit = time.Now()
	m.dirty = false
}
