package status

import (
	"context"

	"github.com/goodtune/lockbox/internal/device"
)

// Feed is an open live status feed.
type Feed interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Source provides the two ways of reading device status: a push feed and
// a one-shot poll.
type Source interface {
	Dial(ctx context.Context) (Feed, error)
	Poll(ctx context.Context) ([]byte, error)
}

// DeviceSource adapts a device client to a Source.
func DeviceSource(c *device.Client) Source {
	return deviceSource{c: c}
}

type deviceSource struct {
	c *device.Client
}

func (s deviceSource) Dial(ctx context.Context) (Feed, error) {
	feed, err := s.c.DialFeed(ctx)
	if err != nil {
		return nil, err
	}
	return feed, nil
}

func (s deviceSource) Poll(ctx context.Context) ([]byte, error) {
	return s.c.FetchStatusRaw(ctx)
}
