package storage

import (
	"context"

	"github.com/dennisdiepolder/leaddesk/internal/types"
)

// AuditArchive keeps a long-term copy of distribution log entries
type AuditArchive interface {
	Archive(ctx context.Context, entries []types.DistributionLogEntry) error
	History(ctx context.Context, courseID string) ([]types.DistributionRecord, error)
}

// NoopArchive is used when the archive is disabled
type NoopArchive struct{}

func NewNoopArchive() *NoopArchive { return &NoopArchive{} }

func (a *NoopArchive) Archive(_ context.Context, _ []types.DistributionLogEntry) error { return nil }
func (a *NoopArchive) History(_ context.Context, _ string) ([]types.DistributionRecord, error) {
	return []types.DistributionRecord{}, nil
}
