package lore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// --- Batch embedding ---

// BatchState represents the lifecycle state of a batch job.
type BatchState string

const (
	BatchPending   BatchState = "pending"
	BatchRunning   BatchState = "running"
	BatchSucceeded BatchState = "succeeded"
	BatchFailed    BatchState = "failed"
	BatchCancelled BatchState = "cancelled"
	BatchExpired   BatchState = "expired"
)

// BatchStats holds aggregate counts for a batch job's requests.
type BatchStats struct {
	TotalCount     int `json:"total_count"`
	SucceededCount int `json:"succeeded_count"`
	FailedCount    int `json:"failed_count"`
}

// BatchJob represents an asynchronous batch processing job. Use
// BatchEmbedStatus to poll for state changes and BatchEmbedResults to
// retrieve completed output.
type BatchJob struct {
	ID          string     `json:"id"`
	State       BatchState `json:"state"`
	DisplayName string     `json:"display_name,omitempty"`
	Stats       BatchStats `json:"stats"`
	CreateTime  time.Time  `json:"create_time"`
	UpdateTime  time.Time  `json:"update_time"`
}

// Terminal reports whether the job can no longer change state.
func (j BatchJob) Terminal() bool {
	switch j.State {
	case BatchSucceeded, BatchFailed, BatchCancelled, BatchExpired:
		return true
	}
	return false
}

// BatchEmbeddingProvider extends EmbeddingProvider with asynchronous
// batch embedding. Batch requests are processed offline at reduced cost.
type BatchEmbeddingProvider interface {
	EmbeddingProvider

	// BatchEmbed submits texts as a single batch job. Returns the
	// created job with its ID for status tracking.
	BatchEmbed(ctx context.Context, texts []string) (BatchJob, error)

	// BatchEmbedStatus returns the current state of a batch job.
	BatchEmbedStatus(ctx context.Context, jobID string) (BatchJob, error)

	// BatchEmbedResults retrieves vectors for a completed batch job,
	// one per input text in submission order. A nil vector marks an
	// input the provider failed on. Returns an error if the job has not
	// yet succeeded.
	BatchEmbedResults(ctx context.Context, jobID string) ([][]float32, error)
}

// --- Reconciler ---

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPollInterval sets how often job status is polled. Default 30s.
func WithPollInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.pollInterval = d }
}

// WithReconcilerLogger sets the logger. Default discards.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = l }
}

// Reconciler drives pending chunks to ready or failed through a batch
// embedding provider: it collects a document's pending chunks, submits
// their vector texts as one job, waits for completion, then applies the
// vectors via Store.BulkUpdateVectors. Every pending chunk transitions
// exactly once.
type Reconciler struct {
	store        Store
	provider     BatchEmbeddingProvider
	pollInterval time.Duration
	log          *slog.Logger
}

// NewReconciler creates a Reconciler over store and provider.
func NewReconciler(store Store, provider BatchEmbeddingProvider, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:        store,
		provider:     provider,
		pollInterval: 30 * time.Second,
		log:          nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ReconcileDocument embeds all pending chunks of one document and
// persists the results. Chunks with no vector text (for example a media
// reference with no alt text and no description) stay pending for a
// later pass. Returns the number of chunks transitioned to ready.
func (r *Reconciler) ReconcileDocument(ctx context.Context, documentID string) (int, error) {
	chunks, err := r.store.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("load chunks: %w", err)
	}

	var ids []string
	var texts []string
	for _, c := range chunks {
		if c.Embedding.Phase() != EmbeddingPendingPhase {
			continue
		}
		if c.Embedding.VectorText() == "" {
			continue
		}
		ids = append(ids, c.ID)
		texts = append(texts, c.Embedding.VectorText())
	}
	if len(ids) == 0 {
		return 0, nil
	}

	job, err := r.provider.BatchEmbed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("submit batch: %w", err)
	}
	r.log.Info("batch embedding submitted", "job_id", job.ID, "document_id", documentID, "chunks", len(ids))

	job, err = r.await(ctx, job)
	if err != nil {
		return 0, err
	}
	if job.State != BatchSucceeded {
		reason := fmt.Sprintf("batch job %s ended %s", job.ID, job.State)
		if err := r.store.MarkChunksFailed(ctx, ids, reason); err != nil {
			return 0, fmt.Errorf("mark failed: %w", err)
		}
		return 0, nil
	}

	vectors, err := r.provider.BatchEmbedResults(ctx, job.ID)
	if err != nil {
		return 0, fmt.Errorf("fetch batch results: %w", err)
	}
	if len(vectors) != len(ids) {
		return 0, fmt.Errorf("batch job %s: got %d vectors for %d chunks", job.ID, len(vectors), len(ids))
	}

	ready := make(map[string][]float32, len(ids))
	var failed []string
	dim := r.provider.Dimensions()
	for i, vec := range vectors {
		switch {
		case len(vec) == 0:
			failed = append(failed, ids[i])
		case dim > 0 && len(vec) != dim:
			r.log.Warn("batch vector dimension mismatch", "chunk_id", ids[i], "want", dim, "got", len(vec))
			failed = append(failed, ids[i])
		default:
			ready[ids[i]] = vec
		}
	}

	if len(ready) > 0 {
		if err := r.store.BulkUpdateVectors(ctx, ready); err != nil {
			return 0, fmt.Errorf("apply vectors: %w", err)
		}
	}
	if len(failed) > 0 {
		if err := r.store.MarkChunksFailed(ctx, failed, "no embedding returned"); err != nil {
			return len(ready), fmt.Errorf("mark failed: %w", err)
		}
	}
	r.log.Info("batch embedding reconciled", "job_id", job.ID, "ready", len(ready), "failed", len(failed))
	return len(ready), nil
}

func (r *Reconciler) await(ctx context.Context, job BatchJob) (BatchJob, error) {
	for !job.Terminal() {
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(r.pollInterval):
		}
		var err error
		job, err = r.provider.BatchEmbedStatus(ctx, job.ID)
		if err != nil {
			return job, fmt.Errorf("poll batch status: %w", err)
		}
	}
	return job, nil
}
