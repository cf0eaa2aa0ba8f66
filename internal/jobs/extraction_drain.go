package jobs

import (
	"context"
	"time"

	"introspect/internal/services"
)

// ExtractionDrainJob pulls pending extraction jobs off the queue and runs
// them. The short interval keeps graph updates close behind conversations
// without coupling them to the request path.
type ExtractionDrainJob struct {
	extraction *services.ExtractionService
}

// NewExtractionDrainJob creates the extraction queue drain job
func NewExtractionDrainJob(extraction *services.ExtractionService) *ExtractionDrainJob {
	return &ExtractionDrainJob{extraction: extraction}
}

func (j *ExtractionDrainJob) Name() string { return "extraction-drain" }

func (j *ExtractionDrainJob) Interval() time.Duration { return 5 * time.Second }

func (j *ExtractionDrainJob) Run(ctx context.Context) error {
	_, err := j.extraction.ProcessPending(ctx)
	return err
}
