package job

import (
	"context"

	"github.com/xxxsen/docrag/internal/service"
)

type Syncer interface {
	Sync(ctx context.Context) (*service.SyncResult, error)
}

// SyncJob re-chunks the source document and overwrites the index.
type SyncJob struct {
	syncer Syncer
}

func NewSyncJob(syncer Syncer) *SyncJob {
	return &SyncJob{syncer: syncer}
}

func (j *SyncJob) Name() string {
	return "sync"
}

func (j *SyncJob) Run(ctx context.Context) error {
	_, err := j.syncer.Sync(ctx)
	return err
}
