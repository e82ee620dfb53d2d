package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/coder/websocket"
)

// Feed is an open live status feed. Each Read returns one raw status frame.
type Feed struct {
	conn *websocket.Conn
}

// DialFeed opens the device push feed. The URL scheme is derived from the
// base URL: https becomes wss, http becomes ws.
func (c *Client) DialFeed(ctx context.Context) (*Feed, error) {
	u := c.feedURL()

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: c.http,
	})
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	conn.SetReadLimit(64 << 10)

	c.logger.Debug().Str("url", u).Msg("Feed connected")
	return &Feed{conn: conn}, nil
}

func (c *Client) feedURL() string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.feedPath
}

// Read blocks until the next frame arrives or the feed fails.
func (f *Feed) Read(ctx context.Context) ([]byte, error) {
	_, data, err := f.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the feed. Safe to call more than once.
func (f *Feed) Close() error {
	return f.conn.Close(websocket.StatusNormalClosure, "")
}
