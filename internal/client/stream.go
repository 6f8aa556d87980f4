package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/studychat/studychat-server/internal/logger"
	"github.com/studychat/studychat-server/internal/model"
)

// reconnectDelay is how long the consumer waits before redialing a broken
// stream.
const reconnectDelay = 3 * time.Second

// StreamOpener dials the server event stream.
type StreamOpener interface {
	OpenStream(ctx context.Context) (io.ReadCloser, error)
}

// StreamConsumer keeps one event stream alive for the session, reconnecting
// on any failure. Before each reconnect it refreshes the room list, so a
// coverage gap can never leave stale membership data in place.
type StreamConsumer struct {
	opener  StreamOpener
	session *Session
	logger  *logger.Logger
}

func NewStreamConsumer(opener StreamOpener, session *Session, logger *logger.Logger) *StreamConsumer {
	return &StreamConsumer{opener: opener, session: session, logger: logger}
}

// Run consumes the stream until ctx is canceled.
func (c *StreamConsumer) Run(ctx context.Context) {
	for {
		if err := c.consumeOnce(ctx); err != nil {
			c.logger.Debug("stream interrupted", "error", err)
		}
		if ctx.Err() != nil {
			return
		}

		if err := c.session.RefreshRooms(ctx); err != nil {
			c.logger.Warn("room refresh before reconnect failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	body, err := c.opener.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			// Blank separators and heartbeat comments.
			continue
		}

		var event model.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.logger.Warn("malformed stream frame", "error", err)
			continue
		}
		c.session.HandleEvent(ctx, event)
	}
	return scanner.Err()
}
