// Package dialer selects the Live transport named by the configuration.
package dialer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/room4-2/livevoice/bidi"
	"github.com/room4-2/livevoice/config"
	"github.com/room4-2/livevoice/gemini"
	"github.com/room4-2/livevoice/transport"
)

// New returns the SDK dialer for config.TransportGenAI and the raw protocol
// dialer for config.TransportBidi.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transport.Dialer, error) {
	switch cfg.Transport {
	case config.TransportGenAI, "":
		d, err := gemini.NewDialer(ctx, cfg.GeminiAPIKey, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.TransportBidi:
		opts := []bidi.Option{
			bidi.WithKeepalive(cfg.KeepAlivePeriod),
			bidi.WithLogger(logger),
		}
		if cfg.BidiURL != "" {
			opts = append(opts, bidi.WithBaseURL(cfg.BidiURL))
		}
		return bidi.New(cfg.GeminiAPIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
