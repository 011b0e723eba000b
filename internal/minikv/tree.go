package minikv

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/RichardKnop/minikv/internal/pkg/node"
	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

const (
	MinDegree     = 3
	DefaultDegree = 4
	// MaxDegree is the largest internal node that still fits in one block.
	MaxDegree = (pager.MaxPayloadSize - 12) / 8
)

var ErrInvalidDegree = fmt.Errorf("degree must be between %d and %d", MinDegree, MaxDegree)

type Entry struct {
	Key   int32
	Value string
}

// Tree is a B+ tree with one node per block. Nodes refer to each other by
// block id only and are decoded from the cache on every operation.
type Tree struct {
	logger *zap.Logger
	cache  BlockCache
	pages  BlockAllocator
	degree int
	metaID pager.BlockID
	rootID pager.BlockID
}

// OpenTree reads the root id from the metadata block, or creates an empty
// tree when the metadata block was never written.
func OpenTree(ctx context.Context, logger *zap.Logger, cache BlockCache, pages BlockAllocator, degree int, metaID pager.BlockID) (*Tree, error) {
	if degree < MinDegree || degree > MaxDegree {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidDegree, degree)
	}

	t := &Tree{
		logger: logger,
		cache:  cache,
		pages:  pages,
		degree: degree,
		metaID: metaID,
	}

	aBlock, err := cache.Get(ctx, metaID)
	if err != nil && !errors.Is(err, pager.ErrBlockNotFound) {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if err == nil && !aBlock.IsEmpty() {
		rootID, err := unmarshalMetadata(aBlock)
		if err != nil {
			return nil, err
		}
		t.rootID = rootID

		logger.Sugar().With("metadata_block", metaID, "root_block", rootID).Debug("opened tree")

		return t, nil
	}

	ws := t.newWriteSet()
	aRoot, err := ws.NewLeaf(ctx)
	if err != nil {
		return nil, err
	}
	ws.SetRoot(aRoot.ID)
	if err := ws.Commit(ctx); err != nil {
		return nil, fmt.Errorf("initialize tree: %w", err)
	}

	logger.Sugar().With("metadata_block", metaID, "root_block", t.rootID).Debug("initialized empty tree")

	return t, nil
}

func (t *Tree) RootID() pager.BlockID { return t.rootID }

func (t *Tree) MetadataID() pager.BlockID { return t.metaID }

func (t *Tree) Degree() int { return t.degree }

func (t *Tree) minLeafKeys() int {
	return (t.degree + 1) / 2
}

func (t *Tree) minInternalKeys() int {
	return (t.degree+1)/2 - 1
}

func (t *Tree) readNode(ctx context.Context, id pager.BlockID) (node.Node, error) {
	aBlock, err := t.cache.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pager.ErrBlockNotFound) {
			return nil, fmt.Errorf("%w: tree references missing block %d", pager.ErrCorruptBlock, id)
		}
		return nil, err
	}
	return node.Decode(aBlock)
}

// findLeaf descends from the root picking the first separator strictly
// greater than key, or the last child.
func (t *Tree) findLeaf(ctx context.Context, key int32) (*node.Leaf, error) {
	aNode, err := t.readNode(ctx, t.rootID)
	if err != nil {
		return nil, err
	}

	for {
		switch current := aNode.(type) {
		case *node.Leaf:
			return current, nil
		case *node.Internal:
			aNode, err = t.readNode(ctx, current.Children[current.ChildIndex(key)])
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unexpected node %T", pager.ErrCorruptBlock, aNode)
		}
	}
}

// Search returns the value stored under key, ok is false when the key is absent.
func (t *Tree) Search(ctx context.Context, key int32) (string, bool, error) {
	aLeaf, err := t.findLeaf(ctx, key)
	if err != nil {
		return "", false, err
	}

	idx, found := slices.BinarySearch(aLeaf.Keys, key)
	if !found {
		return "", false, nil
	}

	return aLeaf.Values[idx], true, nil
}

// RangeSearch returns every entry with start <= key <= end in ascending key order.
func (t *Tree) RangeSearch(ctx context.Context, start, end int32) ([]Entry, error) {
	entries := make([]Entry, 0)
	if start > end {
		return entries, nil
	}

	aLeaf, err := t.findLeaf(ctx, start)
	if err != nil {
		return nil, err
	}

	for {
		for idx, key := range aLeaf.Keys {
			if key < start {
				continue
			}
			if key > end {
				return entries, nil
			}
			entries = append(entries, Entry{Key: key, Value: aLeaf.Values[idx]})
		}

		if aLeaf.Next == pager.NoBlock {
			return entries, nil
		}
		aNode, err := t.readNode(ctx, aLeaf.Next)
		if err != nil {
			return nil, err
		}
		next, ok := aNode.(*node.Leaf)
		if !ok {
			return nil, fmt.Errorf("%w: leaf chain reaches %s block %d", pager.ErrCorruptBlock, aNode.Type(), aNode.BlockID())
		}
		aLeaf = next
	}
}

// Walk visits every node breadth first, depth 0 being the root.
func (t *Tree) Walk(ctx context.Context, fn func(depth int, aNode node.Node) error) error {
	type item struct {
		id    pager.BlockID
		depth int
	}
	queue := []item{{id: t.rootID}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		aNode, err := t.readNode(ctx, current.id)
		if err != nil {
			return err
		}
		if err := fn(current.depth, aNode); err != nil {
			return err
		}

		if anInternal, ok := aNode.(*node.Internal); ok {
			for _, childID := range anInternal.Children {
				queue = append(queue, item{id: childID, depth: current.depth + 1})
			}
		}
	}

	return nil
}

// Height is the number of levels, 1 for a tree that is a single leaf.
func (t *Tree) Height(ctx context.Context) (int, error) {
	height := 1
	aNode, err := t.readNode(ctx, t.rootID)
	if err != nil {
		return 0, err
	}
	for {
		anInternal, ok := aNode.(*node.Internal)
		if !ok {
			return height, nil
		}
		aNode, err = t.readNode(ctx, anInternal.Children[0])
		if err != nil {
			return 0, err
		}
		height += 1
	}
}

// Len counts the stored keys.
func (t *Tree) Len(ctx context.Context) (int, error) {
	var count int
	err := t.Walk(ctx, func(_ int, aNode node.Node) error {
		if aLeaf, ok := aNode.(*node.Leaf); ok {
			count += len(aLeaf.Keys)
		}
		return nil
	})
	return count, err
}

// PersistMetadata writes the root id through the cache.
func (t *Tree) PersistMetadata(ctx context.Context) error {
	if err := t.cache.Put(ctx, marshalMetadata(t.metaID, t.rootID)); err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}
	return nil
}

// Close persists the metadata, flushes the cache and saves the free list.
func (t *Tree) Close(ctx context.Context) error {
	if err := t.PersistMetadata(ctx); err != nil {
		return err
	}
	if err := t.cache.Flush(ctx); err != nil {
		return err
	}
	return t.pages.SaveFreeList(ctx)
}

// Drop frees every node block and the metadata block. The blocks passed in
// are written in the same commit, so they change together with the drop.
func (t *Tree) Drop(ctx context.Context, with ...pager.Block) error {
	ws := t.newWriteSet()
	for _, aBlock := range with {
		ws.Write(aBlock)
	}

	if err := t.Walk(ctx, func(_ int, aNode node.Node) error {
		ws.Free(aNode.BlockID())
		return nil
	}); err != nil {
		return err
	}
	ws.Free(t.metaID)

	if err := ws.Commit(ctx); err != nil {
		return fmt.Errorf("drop tree: %w", err)
	}

	t.logger.Sugar().With("metadata_block", t.metaID, "blocks", len(ws.freed)).Debug("dropped tree")

	return nil
}
