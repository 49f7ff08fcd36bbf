package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Processed counts consumed commands by outcome.
// Labels: type, outcome (ack, nak, term)
var Processed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "semindex",
		Subsystem: "commands",
		Name:      "processed_total",
		Help:      "Total number of index commands consumed, by outcome",
	},
	[]string{"type", "outcome"},
)

// Handler executes one command. Returning an error wrapping
// ErrInvalidCommand terminates the message; any other error redelivers it.
type Handler interface {
	Handle(ctx context.Context, cmd Command) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// Consumer pulls commands from a durable JetStream consumer.
type Consumer struct {
	consumer jetstream.Consumer
	handler  Handler
	cfg      Config
	logger   *zap.Logger
}

// NewConsumer creates or updates the durable consumer and returns a
// Consumer ready to Run.
func NewConsumer(ctx context.Context, js jetstream.JetStream, cfg Config, handler Handler, logger *zap.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrInvalidConfig)
	}
	if cfg.Durable == "" {
		return nil, fmt.Errorf("%w: durable name is required", ErrInvalidConfig)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: cfg.Subject,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer %s: %w", cfg.Durable, err)
	}

	return &Consumer{
		consumer: cons,
		handler:  handler,
		cfg:      cfg,
		logger:   logger.With(zap.String("durable", cfg.Durable)),
	}, nil
}

// Run fetches and handles commands until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("command consumer started", zap.String("subject", c.cfg.Subject))
	defer c.logger.Info("command consumer stopped")

	for ctx.Err() == nil {
		batch, err := c.consumer.Fetch(c.cfg.FetchBatch, jetstream.FetchMaxWait(c.cfg.FetchWait))
		if err != nil {
			c.logger.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.FetchWait):
			}
			continue
		}

		for msg := range batch.Messages() {
			c.process(ctx, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, jetstream.ErrNoMessages) {
			c.logger.Warn("fetch batch ended with error", zap.Error(err))
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg jetstream.Msg) {
	var cmd Command
	if err := json.Unmarshal(msg.Data(), &cmd); err != nil {
		c.terminate(msg, cmd, fmt.Errorf("%w: %v", ErrInvalidCommand, err))
		return
	}
	if err := cmd.Validate(); err != nil {
		c.terminate(msg, cmd, err)
		return
	}

	logger := c.logger.With(
		zap.String("command_id", cmd.ID),
		zap.String("type", string(cmd.Type)))
	if meta, err := msg.Metadata(); err == nil {
		logger = logger.With(zap.Uint64("delivered", meta.NumDelivered))
	}

	if ctx.Err() != nil {
		c.nak(msg, cmd, logger, ctx.Err())
		return
	}

	err := c.handler.Handle(ctx, cmd)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			logger.Warn("ack failed", zap.Error(ackErr))
		}
		Processed.WithLabelValues(string(cmd.Type), "ack").Inc()
		logger.Debug("command handled")
	case errors.Is(err, ErrInvalidCommand):
		c.terminate(msg, cmd, err)
	default:
		c.nak(msg, cmd, logger, err)
	}
}

func (c *Consumer) terminate(msg jetstream.Msg, cmd Command, err error) {
	c.logger.Warn("command terminated",
		zap.String("command_id", cmd.ID),
		zap.String("type", string(cmd.Type)),
		zap.Error(err))
	if termErr := msg.Term(); termErr != nil {
		c.logger.Warn("term failed", zap.Error(termErr))
	}
	Processed.WithLabelValues(typeLabel(cmd.Type), "term").Inc()
}

func (c *Consumer) nak(msg jetstream.Msg, cmd Command, logger *zap.Logger, err error) {
	logger.Warn("command failed, requesting redelivery", zap.Error(err))
	if meta, metaErr := msg.Metadata(); metaErr == nil && c.cfg.MaxDeliver > 0 && meta.NumDelivered >= uint64(c.cfg.MaxDeliver) {
		logger.Error("command reached max deliveries and will be dropped",
			zap.Int("max_deliver", c.cfg.MaxDeliver))
	}
	if nakErr := msg.Nak(); nakErr != nil {
		logger.Warn("nak failed", zap.Error(nakErr))
	}
	Processed.WithLabelValues(string(cmd.Type), "nak").Inc()
}

func typeLabel(t Type) string {
	switch t {
	case UpsertItems, RemoveItems, RemoveTenant:
		return string(t)
	default:
		return "unknown"
	}
}
