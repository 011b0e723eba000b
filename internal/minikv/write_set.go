package minikv

import (
	"context"
	"fmt"

	"github.com/RichardKnop/minikv/internal/pkg/node"
	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// writeSet stages the nodes touched by one tree operation. Every node is
// decoded at most once per operation, so all reads see the staged version.
// Nothing reaches the buffer cache before commit, and commit encodes every
// node before the first write.
type writeSet struct {
	tree      *Tree
	rootID    pager.BlockID
	rootMoved bool
	nodes     map[pager.BlockID]node.Node
	modified  []pager.BlockID
	isDirty   map[pager.BlockID]struct{}
	allocated []pager.BlockID
	freed     []pager.BlockID
	// blocks outside the tree written in the same commit
	extra []pager.Block
}

func (t *Tree) newWriteSet() *writeSet {
	return &writeSet{
		tree:    t,
		rootID:  t.rootID,
		nodes:   make(map[pager.BlockID]node.Node),
		isDirty: make(map[pager.BlockID]struct{}),
	}
}

func (ws *writeSet) ReadNode(ctx context.Context, id pager.BlockID) (node.Node, error) {
	if aNode, ok := ws.nodes[id]; ok {
		return aNode, nil
	}

	aNode, err := ws.tree.readNode(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.nodes[id] = aNode

	return aNode, nil
}

func (ws *writeSet) ReadLeaf(ctx context.Context, id pager.BlockID) (*node.Leaf, error) {
	aNode, err := ws.ReadNode(ctx, id)
	if err != nil {
		return nil, err
	}
	aLeaf, ok := aNode.(*node.Leaf)
	if !ok {
		return nil, fmt.Errorf("%w: block %d is %s, expected leaf", pager.ErrCorruptBlock, id, aNode.Type())
	}
	return aLeaf, nil
}

func (ws *writeSet) ReadInternal(ctx context.Context, id pager.BlockID) (*node.Internal, error) {
	aNode, err := ws.ReadNode(ctx, id)
	if err != nil {
		return nil, err
	}
	anInternal, ok := aNode.(*node.Internal)
	if !ok {
		return nil, fmt.Errorf("%w: block %d is %s, expected internal", pager.ErrCorruptBlock, id, aNode.Type())
	}
	return anInternal, nil
}

// Modified marks nodes to be written on commit.
func (ws *writeSet) Modified(nodes ...node.Node) {
	for _, aNode := range nodes {
		id := aNode.BlockID()
		ws.nodes[id] = aNode
		if _, ok := ws.isDirty[id]; ok {
			continue
		}
		ws.isDirty[id] = struct{}{}
		ws.modified = append(ws.modified, id)
	}
}

func (ws *writeSet) NewLeaf(ctx context.Context) (*node.Leaf, error) {
	id, err := ws.allocate(ctx)
	if err != nil {
		return nil, err
	}
	aLeaf := node.NewLeaf(id)
	ws.Modified(aLeaf)
	return aLeaf, nil
}

func (ws *writeSet) NewInternal(ctx context.Context) (*node.Internal, error) {
	id, err := ws.allocate(ctx)
	if err != nil {
		return nil, err
	}
	anInternal := &node.Internal{ID: id}
	ws.Modified(anInternal)
	return anInternal, nil
}

func (ws *writeSet) allocate(ctx context.Context) (pager.BlockID, error) {
	id, err := ws.tree.pages.Allocate(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate block: %w", err)
	}
	ws.allocated = append(ws.allocated, id)
	return id, nil
}

// Free removes a block from the tree. It is logged as deleted and its id
// returns to the free list on commit.
func (ws *writeSet) Free(id pager.BlockID) {
	ws.freed = append(ws.freed, id)
	delete(ws.nodes, id)
}

// Write stages a block that is not a tree node, such as the catalog.
func (ws *writeSet) Write(aBlock pager.Block) {
	ws.extra = append(ws.extra, aBlock)
}

func (ws *writeSet) SetRoot(id pager.BlockID) {
	ws.rootID = id
	ws.rootMoved = true
}

func (ws *writeSet) isEmpty() bool {
	return len(ws.modified) == 0 && len(ws.freed) == 0 && len(ws.extra) == 0 && !ws.rootMoved
}

// Commit logs staged nodes, freed blocks, the root and the free list as one
// batch and only then makes them visible in the cache. On any error the tree
// and the free list are left as they were before the operation.
func (ws *writeSet) Commit(ctx context.Context) error {
	if ws.isEmpty() {
		return nil
	}

	freed := make(map[pager.BlockID]struct{}, len(ws.freed))
	for _, id := range ws.freed {
		freed[id] = struct{}{}
	}

	blocks := make([]pager.Block, 0, len(ws.modified)+len(ws.extra)+2)
	for _, id := range ws.modified {
		if _, ok := freed[id]; ok {
			continue
		}
		aBlock, err := node.Encode(ws.nodes[id])
		if err != nil {
			return ws.Rollback(ctx, err)
		}
		blocks = append(blocks, aBlock)
	}
	if ws.rootMoved {
		blocks = append(blocks, marshalMetadata(ws.tree.metaID, ws.rootID))
	}
	blocks = append(blocks, ws.extra...)

	pages := ws.tree.pages
	for i, id := range ws.freed {
		if err := pages.Free(ctx, id); err != nil {
			ws.reserve(ctx, ws.freed[:i])
			return ws.Rollback(ctx, fmt.Errorf("commit delete of block %d: %w", id, err))
		}
	}
	if len(ws.allocated) > 0 || len(ws.freed) > 0 {
		blocks = append(blocks, pages.FreeListBlock())
	}

	if err := ws.tree.cache.Apply(ctx, blocks, ws.freed); err != nil {
		ws.reserve(ctx, ws.freed)
		return ws.Rollback(ctx, fmt.Errorf("commit: %w", err))
	}

	ws.tree.rootID = ws.rootID
	ws.allocated = nil

	return nil
}

// reserve takes ids freed by a failed commit back out of the free list.
func (ws *writeSet) reserve(ctx context.Context, ids []pager.BlockID) {
	for _, id := range ids {
		if err := ws.tree.pages.Reserve(ctx, id); err != nil {
			ws.tree.logger.Sugar().With("block_id", id, "error", err).Warn("could not reserve freed block")
		}
	}
}

// Rollback hands allocated ids back and returns cause.
func (ws *writeSet) Rollback(ctx context.Context, cause error) error {
	for _, id := range ws.allocated {
		if err := ws.tree.pages.Free(ctx, id); err != nil {
			ws.tree.logger.Sugar().With("block_id", id, "error", err).Warn("could not release allocated block")
		}
	}
	ws.allocated = nil

	return cause
}
