package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Publisher enqueues commands.
type Publisher struct {
	js      jetstream.JetStream
	subject string
	logger  *zap.Logger
}

// NewPublisher creates a Publisher for subject.
func NewPublisher(js jetstream.JetStream, subject string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{js: js, subject: subject, logger: logger}
}

// Publish validates cmd and stores it in the stream. The command id is
// sent as Nats-Msg-Id, so republishing the same command within the
// duplicate window is a no-op. It returns the id used.
func (p *Publisher) Publish(ctx context.Context, cmd Command) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}

	ack, err := p.js.Publish(ctx, p.subject, data, jetstream.WithMsgID(cmd.ID))
	if err != nil {
		return "", fmt.Errorf("publish %s command: %w", cmd.Type, err)
	}
	if ack.Duplicate {
		p.logger.Debug("duplicate command ignored by stream",
			zap.String("command_id", cmd.ID),
			zap.String("type", string(cmd.Type)))
	}
	return cmd.ID, nil
}
