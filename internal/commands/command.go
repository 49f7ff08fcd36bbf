// Package commands carries index commands over NATS JetStream.
//
// Domain services publish a Command instead of calling the index inline,
// so their own transactions do not depend on index availability. The
// Consumer delivers each command at least once: malformed commands are
// terminated, handled ones acked, and interrupted ones nak'ed for
// redelivery. Handlers must therefore be idempotent, which upserts and
// deletes by deterministic id are.
package commands

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/semindex/internal/indexer"
)

// ErrInvalidCommand marks a command that can never succeed. The consumer
// terminates such messages instead of redelivering them.
var ErrInvalidCommand = errors.New("invalid command")

// ErrInvalidConfig indicates an unusable stream or consumer configuration.
var ErrInvalidConfig = errors.New("invalid commands configuration")

// Type names a command.
type Type string

const (
	// UpsertItems indexes Items.
	UpsertItems Type = "upsert_items"
	// RemoveItems deletes TenantID's IDs from Collection.
	RemoveItems Type = "remove_items"
	// RemoveTenant deletes every record of TenantID.
	RemoveTenant Type = "remove_tenant"
)

// Command is one queued index operation.
type Command struct {
	// ID de-duplicates publishes within the stream's duplicate window.
	// Publish fills it when empty.
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Collection string         `json:"collection,omitempty"`
	IDs        []string       `json:"ids,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Items      []indexer.Item `json:"items,omitempty"`
}

// Validate checks that the fields required by Type are present.
func (c Command) Validate() error {
	switch c.Type {
	case UpsertItems:
		if len(c.Items) == 0 {
			return fmt.Errorf("%w: %s without items", ErrInvalidCommand, c.Type)
		}
	case RemoveItems:
		if c.Collection == "" || c.TenantID == "" || len(c.IDs) == 0 {
			return fmt.Errorf("%w: %s requires collection, tenant_id and ids", ErrInvalidCommand, c.Type)
		}
	case RemoveTenant:
		if c.TenantID == "" {
			return fmt.Errorf("%w: %s requires tenant_id", ErrInvalidCommand, c.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, c.Type)
	}
	return nil
}
