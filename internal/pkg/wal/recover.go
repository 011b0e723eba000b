package wal

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

type Replayer interface {
	Entries() iter.Seq2[Entry, error]
}

type BlockWriter interface {
	Write(context.Context, pager.Block) error
	Sync() error
}

// Recover applies every record in log order to the store. A write restores
// the logged block image, a delete leaves an empty leaf block behind. Freed
// ids are reclaimed through the free list, not here.
//
// A torn record at the tail was never acknowledged to a caller, so replay
// stops there without failing.
func Recover(ctx context.Context, logger *zap.Logger, aLog Replayer, store BlockWriter) (int, error) {
	var replayed int

	for anEntry, err := range aLog.Entries() {
		if err != nil {
			if errors.Is(err, ErrTruncatedRecord) {
				logger.Sugar().With("replayed", replayed, "error", err).Warn("log ends with a torn record")
				break
			}
			return replayed, fmt.Errorf("recover: %w", err)
		}

		var aBlock pager.Block
		switch anEntry.Type {
		case EntryWrite:
			aBlock, err = pager.BlockFromImage(anEntry.BlockID, anEntry.Payload)
			if err != nil {
				return replayed, fmt.Errorf("recover: %w", err)
			}
		case EntryDelete:
			aBlock = pager.Block{ID: anEntry.BlockID, Type: pager.BlockLeaf}
		}

		if err := store.Write(ctx, aBlock); err != nil {
			return replayed, fmt.Errorf("recover: %w", err)
		}
		replayed += 1

		logger.Sugar().With(
			"entry_type", anEntry.Type.String(),
			"block_id", anEntry.BlockID,
		).Debug("replayed log entry")
	}

	if replayed > 0 {
		if err := store.Sync(); err != nil {
			return replayed, fmt.Errorf("recover: sync store: %w", err)
		}
	}

	return replayed, nil
}
