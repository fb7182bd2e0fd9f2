package sync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Batch sizing for history ingestion. Chats are few and cheap; messages
// arrive by the thousand, so they get larger batches and a longer pause
// to keep the writer from monopolizing the database.
const (
	ChatBatchSize     = 25
	ChatBatchPause    = 50 * time.Millisecond
	MessageBatchSize  = 50
	MessageBatchPause = 100 * time.Millisecond
)

// WriteBatches splits records into fixed-size chunks, preserving order, and
// hands each chunk to upsert. A failed chunk is logged and skipped; later
// chunks still run. Returns the number of records in successful chunks.
func WriteBatches[T any](ctx context.Context, records []T, batchSize int, pause time.Duration, upsert func([]T) error, logger *zap.Logger) int {
	if batchSize <= 0 {
		batchSize = 1
	}
	written := 0
	for offset := 0; offset < len(records); offset += batchSize {
		end := offset + batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[offset:end]

		if err := upsert(chunk); err != nil {
			logger.Error("batch write failed",
				zap.Int("offset", offset),
				zap.Int("size", len(chunk)),
				zap.Error(err))
		} else {
			written += len(chunk)
		}

		if end < len(records) {
			select {
			case <-ctx.Done():
				return written
			case <-time.After(pause):
			}
		}
	}
	return written
}
