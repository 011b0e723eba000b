package minikv

import (
	"context"
	"fmt"
	"slices"

	"github.com/RichardKnop/minikv/internal/pkg/node"
	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// promotion is a separator pushed up after a split, with the new right sibling.
type promotion struct {
	key   int32
	right pager.BlockID
}

// Insert stores value under key, overwriting the value of an existing key.
func (t *Tree) Insert(ctx context.Context, key int32, value string) error {
	ws := t.newWriteSet()

	aRoot, err := ws.ReadNode(ctx, ws.rootID)
	if err != nil {
		return err
	}

	promoted, err := t.insert(ctx, ws, aRoot, key, value)
	if err != nil {
		return ws.Rollback(ctx, err)
	}

	if promoted != nil {
		aNewRoot, err := ws.NewInternal(ctx)
		if err != nil {
			return ws.Rollback(ctx, err)
		}
		aNewRoot.Keys = []int32{promoted.key}
		aNewRoot.Children = []pager.BlockID{aRoot.BlockID(), promoted.right}
		ws.SetRoot(aNewRoot.ID)

		t.logger.Sugar().With(
			"old_root", aRoot.BlockID(),
			"new_root", aNewRoot.ID,
			"separator", promoted.key,
		).Debug("root split, tree grows by one level")
	}

	return ws.Commit(ctx)
}

func (t *Tree) insert(ctx context.Context, ws *writeSet, aNode node.Node, key int32, value string) (*promotion, error) {
	switch current := aNode.(type) {
	case *node.Leaf:
		idx, found := slices.BinarySearch(current.Keys, key)
		if found {
			current.Values[idx] = value
			ws.Modified(current)
			return nil, nil
		}

		current.Keys = slices.Insert(current.Keys, idx, key)
		current.Values = slices.Insert(current.Values, idx, value)
		ws.Modified(current)

		if len(current.Keys) <= t.degree {
			return nil, nil
		}
		return t.splitLeaf(ctx, ws, current)
	case *node.Internal:
		idx := current.ChildIndex(key)
		child, err := ws.ReadNode(ctx, current.Children[idx])
		if err != nil {
			return nil, fmt.Errorf("get child node: %w", err)
		}

		promoted, err := t.insert(ctx, ws, child, key, value)
		if err != nil || promoted == nil {
			return nil, err
		}

		current.Keys = slices.Insert(current.Keys, idx, promoted.key)
		current.Children = slices.Insert(current.Children, idx+1, promoted.right)
		ws.Modified(current)

		if len(current.Keys) <= t.degree {
			return nil, nil
		}
		return t.splitInternal(ctx, ws, current)
	default:
		return nil, fmt.Errorf("%w: unexpected node %T", pager.ErrCorruptBlock, aNode)
	}
}

// splitLeaf moves the upper half into a new leaf linked after aLeaf and
// promotes the new leaf's first key.
func (t *Tree) splitLeaf(ctx context.Context, ws *writeSet, aLeaf *node.Leaf) (*promotion, error) {
	aRight, err := ws.NewLeaf(ctx)
	if err != nil {
		return nil, err
	}

	mid := len(aLeaf.Keys) / 2
	aRight.Keys = slices.Clone(aLeaf.Keys[mid:])
	aRight.Values = slices.Clone(aLeaf.Values[mid:])
	aRight.Next = aLeaf.Next

	aLeaf.Keys = aLeaf.Keys[:mid:mid]
	aLeaf.Values = aLeaf.Values[:mid:mid]
	aLeaf.Next = aRight.ID
	ws.Modified(aLeaf, aRight)

	t.logger.Sugar().With("left", aLeaf.ID, "right", aRight.ID, "separator", aRight.Keys[0]).Debug("split leaf")

	return &promotion{key: aRight.Keys[0], right: aRight.ID}, nil
}

// splitInternal moves keys after the middle one into a new node and
// promotes the middle key itself.
func (t *Tree) splitInternal(ctx context.Context, ws *writeSet, anInternal *node.Internal) (*promotion, error) {
	aRight, err := ws.NewInternal(ctx)
	if err != nil {
		return nil, err
	}

	mid := len(anInternal.Keys) / 2
	midKey := anInternal.Keys[mid]
	aRight.Keys = slices.Clone(anInternal.Keys[mid+1:])
	aRight.Children = slices.Clone(anInternal.Children[mid+1:])

	anInternal.Keys = anInternal.Keys[:mid:mid]
	anInternal.Children = anInternal.Children[: mid+1 : mid+1]
	ws.Modified(anInternal, aRight)

	t.logger.Sugar().With("left", anInternal.ID, "right", aRight.ID, "separator", midKey).Debug("split internal node")

	return &promotion{key: midKey, right: aRight.ID}, nil
}
