package jobs

import (
	"context"
	"time"

	"introspect/internal/services"
)

// EmbeddingBackfillJob retries embedding attachment for memory units stored
// while the embedding provider was unavailable.
type EmbeddingBackfillJob struct {
	memory *services.MemoryService
}

const backfillBatchSize = 50

// NewEmbeddingBackfillJob creates the embedding backfill job
func NewEmbeddingBackfillJob(memory *services.MemoryService) *EmbeddingBackfillJob {
	return &EmbeddingBackfillJob{memory: memory}
}

func (j *EmbeddingBackfillJob) Name() string { return "embedding-backfill" }

func (j *EmbeddingBackfillJob) Interval() time.Duration { return 5 * time.Minute }

func (j *EmbeddingBackfillJob) Run(ctx context.Context) error {
	_, err := j.memory.BackfillEmbeddings(ctx, backfillBatchSize)
	return err
}
