package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"

	lore "github.com/halvard/lore"
)

// enrichMedia asks the analyzer to describe every media chunk and stores
// the description in chunk metadata. Each chunk is processed
// independently via a bounded worker pool. Individual failures are
// logged but do not block: the chunk keeps its alt text, if any.
func enrichMedia(ctx context.Context, analyzer lore.MediaAnalyzer, chunks []lore.Chunk, workers int, logger *slog.Logger) {
	var mediaIdx []int
	for i, c := range chunks {
		if c.Type.IsMedia() {
			mediaIdx = append(mediaIdx, i)
		}
	}
	if len(mediaIdx) == 0 {
		return
	}
	if workers <= 0 {
		workers = 1
	}
	numWorkers := min(workers, len(mediaIdx))

	logger.Debug("media enrichment: worker pool started",
		"media_count", len(mediaIdx), "workers", numWorkers)

	work := make(chan int, len(mediaIdx))
	done := make(chan struct{})

	var described, failed, skipped atomic.Int32

	for w := 0; w < numWorkers; w++ {
		go func() {
			for i := range work {
				if ctx.Err() != nil {
					skipped.Add(1)
					continue
				}
				desc, err := analyzer.Describe(ctx, chunks[i].Meta.Ref, chunks[i].Meta.AltText)
				if err != nil {
					failed.Add(1)
					logger.Warn("media enrichment: describe failed",
						"chunk_id", chunks[i].ID, "ref", chunks[i].Meta.Ref, "err", err)
					continue
				}
				if desc != "" {
					chunks[i].Meta.Description = desc
					described.Add(1)
				}
			}
			done <- struct{}{}
		}()
	}

	for _, i := range mediaIdx {
		work <- i
	}
	close(work)

	for w := 0; w < numWorkers; w++ {
		<-done
	}

	if f, s := failed.Load(), skipped.Load(); f > 0 || s > 0 {
		logger.Warn("media enrichment completed with issues",
			"described", described.Load(), "failed", f, "skipped", s)
	} else {
		logger.Debug("media enrichment complete", "described", described.Load())
	}
}
