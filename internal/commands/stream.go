package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// duplicateWindow is how long the stream remembers message ids.
const duplicateWindow = 2 * time.Minute

// Config configures the command stream and its consumer.
type Config struct {
	Stream     string
	Subject    string
	Durable    string
	FetchBatch int
	FetchWait  time.Duration
	MaxDeliver int
}

func (c *Config) applyDefaults() {
	if c.FetchBatch < 1 {
		c.FetchBatch = 16
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 2 * time.Second
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = 5
	}
}

// Connect dials NATS, retrying while the server comes up.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("semindex"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", zap.String("url", url))
	return nc, nil
}

// EnsureStream creates or updates the work-queue stream for commands.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg Config) (jetstream.Stream, error) {
	if cfg.Stream == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("%w: stream and subject are required", ErrInvalidConfig)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring stream %s: %w", cfg.Stream, err)
	}
	return stream, nil
}
