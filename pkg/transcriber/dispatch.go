package transcriber

import (
	"context"
	"sync"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// ChunkFunc transcribes one chunk and returns its raw payload.
type ChunkFunc func(ctx context.Context, chunk models.Chunk) (string, error)

// Dispatch runs fn over chunks with at most concurrency calls in flight.
// Results come back in chunk order regardless of completion order; failed
// chunks are left out and counted. onDone, when set, is called from the
// worker goroutines as each chunk finishes.
func Dispatch(ctx context.Context, chunks []models.Chunk, concurrency int, fn ChunkFunc, onDone func(models.Chunk, models.ChunkResult)) ([]models.Transcript, int) {
	if len(chunks) == 0 {
		return nil, 0
	}
	workers := min(max(concurrency, 1), len(chunks))

	// one slot per chunk; each worker only writes the slot it was handed
	slots := make([]models.ChunkResult, len(chunks))
	taskChan := make(chan int, len(chunks))
	for i := range chunks {
		taskChan <- i
	}
	close(taskChan)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range taskChan {
				chunk := chunks[i]
				result := models.ChunkResult{Index: chunk.Index}

				if err := ctx.Err(); err != nil {
					result.Err = err
				} else if payload, err := fn(ctx, chunk); err != nil {
					result.Err = err
				} else {
					result.Payload = payload
					result.OK = true
				}

				slots[i] = result
				if onDone != nil {
					onDone(chunk, result)
				}
			}
		}()
	}
	wg.Wait()

	ordered := make([]models.Transcript, 0, len(chunks))
	failed := 0
	for i, r := range slots {
		if !r.OK {
			failed++
			continue
		}
		ordered = append(ordered, models.Transcript{Chunk: chunks[i], Payload: r.Payload})
	}
	return ordered, failed
}
