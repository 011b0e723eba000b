package minikv

import (
	"context"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// BlockCache is the only path a tree takes to its blocks.
type BlockCache interface {
	Get(context.Context, pager.BlockID) (pager.Block, error)
	Put(context.Context, pager.Block) error
	Apply(ctx context.Context, writes []pager.Block, deletes []pager.BlockID) error
	Flush(context.Context) error
}

type BlockAllocator interface {
	Allocate(context.Context) (pager.BlockID, error)
	Free(context.Context, pager.BlockID) error
	Reserve(context.Context, pager.BlockID) error
	FreeListBlock() pager.Block
	SaveFreeList(context.Context) error
}
