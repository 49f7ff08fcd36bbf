package commands

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/index"
	"github.com/fyrsmithlabs/semindex/internal/indexer"
)

// Index is the part of index.Service commands drive.
type Index interface {
	UpsertItems(ctx context.Context, items []indexer.Item) (*indexer.Report, error)
	DeleteItems(ctx context.Context, collection, tenantID string, ids []string) error
	DeleteByTenant(ctx context.Context, tenantID string) error
}

// NewIndexHandler returns a Handler that applies commands to idx.
//
// Item failures inside an upsert are logged with the report and the
// command is still acked; re-driving it would only repeat them.
func NewIndexHandler(idx Index, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return HandlerFunc(func(ctx context.Context, cmd Command) error {
		var err error
		switch cmd.Type {
		case UpsertItems:
			var report *indexer.Report
			report, err = idx.UpsertItems(ctx, cmd.Items)
			if report != nil && len(report.Failed) > 0 {
				logger.Warn("upsert command partially failed",
					zap.String("command_id", cmd.ID),
					zap.Int("total", report.Total),
					zap.Int("indexed", report.Indexed),
					zap.Any("failed", report.Failed))
			}
		case RemoveItems:
			err = idx.DeleteItems(ctx, cmd.Collection, cmd.TenantID, cmd.IDs)
		case RemoveTenant:
			err = idx.DeleteByTenant(ctx, cmd.TenantID)
		default:
			return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmd.Type)
		}

		if errors.Is(err, index.ErrInvalidRequest) {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		return err
	})
}
