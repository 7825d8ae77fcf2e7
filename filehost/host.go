package filehost

import (
	"context"
	"io"

	appconfig "demark/config"
	"demark/wavespeed"

	"github.com/pkg/errors"
)

// Host uploads a video somewhere public and returns a URL the
// watermark-removal API can fetch.
type Host interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

// New selects the configured temporary file host.
func New(cfg appconfig.FileHostConfig, client *wavespeed.Client) (Host, error) {
	switch cfg.Provider {
	case "wavespeed":
		return &wavespeedHost{client: client}, nil
	case "s3":
		return newS3Host(cfg)
	default:
		return nil, errors.Errorf("unknown file host provider: %s", cfg.Provider)
	}
}

// NewWaveSpeedHost wraps a client's upload endpoint as a Host. Used when a
// request overrides the API key and the uploads must use the same key.
func NewWaveSpeedHost(client *wavespeed.Client) Host {
	return &wavespeedHost{client: client}
}

// wavespeedHost uses the API's own upload endpoint.
type wavespeedHost struct {
	client *wavespeed.Client
}

func (h *wavespeedHost) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	return h.client.Upload(ctx, filename, r)
}
