package minikv

import (
	"context"
	"fmt"
	"slices"

	"github.com/RichardKnop/minikv/internal/pkg/node"
	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// Delete removes key and reports whether it was present. Deleting a missing
// key is a no-op.
func (t *Tree) Delete(ctx context.Context, key int32) (bool, error) {
	ws := t.newWriteSet()

	aLeaf, err := t.descend(ctx, ws, key)
	if err != nil {
		return false, err
	}

	idx, found := slices.BinarySearch(aLeaf.Keys, key)
	if !found {
		return false, nil
	}

	aLeaf.Keys = slices.Delete(aLeaf.Keys, idx, idx+1)
	aLeaf.Values = slices.Delete(aLeaf.Values, idx, idx+1)
	ws.Modified(aLeaf)

	if aLeaf.ID != ws.rootID && len(aLeaf.Keys) < t.minLeafKeys() {
		if err := t.rebalanceLeaf(ctx, ws, aLeaf, key); err != nil {
			return false, ws.Rollback(ctx, err)
		}
	}

	if err := ws.Commit(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (t *Tree) descend(ctx context.Context, ws *writeSet, key int32) (*node.Leaf, error) {
	id := ws.rootID
	for {
		aNode, err := ws.ReadNode(ctx, id)
		if err != nil {
			return nil, err
		}
		switch current := aNode.(type) {
		case *node.Leaf:
			return current, nil
		case *node.Internal:
			id = current.Children[current.ChildIndex(key)]
		default:
			return nil, fmt.Errorf("%w: unexpected node %T", pager.ErrCorruptBlock, aNode)
		}
	}
}

// findParent walks down from the root along the path of key until it meets
// the node whose child is childID. Ancestors of a node being rebalanced are
// untouched at that point, so key still leads to it.
func (t *Tree) findParent(ctx context.Context, ws *writeSet, childID pager.BlockID, key int32) (*node.Internal, int, error) {
	id := ws.rootID
	for {
		aNode, err := ws.ReadNode(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		aParent, ok := aNode.(*node.Internal)
		if !ok {
			return nil, 0, fmt.Errorf("%w: no parent found for block %d", pager.ErrCorruptBlock, childID)
		}

		idx := aParent.ChildIndex(key)
		if aParent.Children[idx] == childID {
			return aParent, idx, nil
		}
		id = aParent.Children[idx]
	}
}

// rebalanceLeaf fixes an underflowing non-root leaf: borrow from the left,
// borrow from the right, merge into the left, or absorb the right sibling.
func (t *Tree) rebalanceLeaf(ctx context.Context, ws *writeSet, aLeaf *node.Leaf, key int32) error {
	aParent, idx, err := t.findParent(ctx, ws, aLeaf.ID, key)
	if err != nil {
		return err
	}

	var (
		aLeft  *node.Leaf
		aRight *node.Leaf
	)
	if idx > 0 {
		aLeft, err = ws.ReadLeaf(ctx, aParent.Children[idx-1])
		if err != nil {
			return err
		}
		if len(aLeft.Keys) > t.minLeafKeys() {
			last := len(aLeft.Keys) - 1
			aLeaf.Keys = slices.Insert(aLeaf.Keys, 0, aLeft.Keys[last])
			aLeaf.Values = slices.Insert(aLeaf.Values, 0, aLeft.Values[last])
			aLeft.Keys = aLeft.Keys[:last]
			aLeft.Values = aLeft.Values[:last]
			aParent.Keys[idx-1] = aLeaf.Keys[0]
			ws.Modified(aLeft, aLeaf, aParent)
			return nil
		}
	}

	if idx < len(aParent.Children)-1 {
		aRight, err = ws.ReadLeaf(ctx, aParent.Children[idx+1])
		if err != nil {
			return err
		}
		if len(aRight.Keys) > t.minLeafKeys() {
			aLeaf.Keys = append(aLeaf.Keys, aRight.Keys[0])
			aLeaf.Values = append(aLeaf.Values, aRight.Values[0])
			aRight.Keys = slices.Delete(aRight.Keys, 0, 1)
			aRight.Values = slices.Delete(aRight.Values, 0, 1)
			aParent.Keys[idx] = aRight.Keys[0]
			ws.Modified(aRight, aLeaf, aParent)
			return nil
		}
	}

	switch {
	case aLeft != nil:
		aLeft.Keys = append(aLeft.Keys, aLeaf.Keys...)
		aLeft.Values = append(aLeft.Values, aLeaf.Values...)
		aLeft.Next = aLeaf.Next
		aParent.Keys = slices.Delete(aParent.Keys, idx-1, idx)
		aParent.Children = slices.Delete(aParent.Children, idx, idx+1)
		ws.Modified(aLeft, aParent)
		ws.Free(aLeaf.ID)

		t.logger.Sugar().With("into", aLeft.ID, "freed", aLeaf.ID).Debug("merged leaf into left sibling")
	case aRight != nil:
		aLeaf.Keys = append(aLeaf.Keys, aRight.Keys...)
		aLeaf.Values = append(aLeaf.Values, aRight.Values...)
		aLeaf.Next = aRight.Next
		aParent.Keys = slices.Delete(aParent.Keys, idx, idx+1)
		aParent.Children = slices.Delete(aParent.Children, idx+1, idx+2)
		ws.Modified(aLeaf, aParent)
		ws.Free(aRight.ID)

		t.logger.Sugar().With("into", aLeaf.ID, "freed", aRight.ID).Debug("merged right sibling into leaf")
	default:
		return fmt.Errorf("%w: leaf %d has no siblings", pager.ErrCorruptBlock, aLeaf.ID)
	}

	return t.rebalanceInternal(ctx, ws, aParent, key)
}

// rebalanceInternal fixes an internal node that lost a child. Separator keys
// rotate through the parent when borrowing and come down into the merged node.
func (t *Tree) rebalanceInternal(ctx context.Context, ws *writeSet, anInternal *node.Internal, key int32) error {
	if anInternal.ID == ws.rootID {
		if len(anInternal.Keys) == 0 {
			ws.SetRoot(anInternal.Children[0])
			ws.Free(anInternal.ID)

			t.logger.Sugar().With("old_root", anInternal.ID, "new_root", anInternal.Children[0]).Debug("root collapsed, tree shrinks by one level")
		}
		return nil
	}

	if len(anInternal.Keys) >= t.minInternalKeys() {
		return nil
	}

	aParent, idx, err := t.findParent(ctx, ws, anInternal.ID, key)
	if err != nil {
		return err
	}

	var (
		aLeft  *node.Internal
		aRight *node.Internal
	)
	if idx > 0 {
		aLeft, err = ws.ReadInternal(ctx, aParent.Children[idx-1])
		if err != nil {
			return err
		}
		if len(aLeft.Keys) > t.minInternalKeys() {
			lastKey := len(aLeft.Keys) - 1
			lastChild := len(aLeft.Children) - 1
			anInternal.Keys = slices.Insert(anInternal.Keys, 0, aParent.Keys[idx-1])
			anInternal.Children = slices.Insert(anInternal.Children, 0, aLeft.Children[lastChild])
			aParent.Keys[idx-1] = aLeft.Keys[lastKey]
			aLeft.Keys = aLeft.Keys[:lastKey]
			aLeft.Children = aLeft.Children[:lastChild]
			ws.Modified(aLeft, anInternal, aParent)
			return nil
		}
	}

	if idx < len(aParent.Children)-1 {
		aRight, err = ws.ReadInternal(ctx, aParent.Children[idx+1])
		if err != nil {
			return err
		}
		if len(aRight.Keys) > t.minInternalKeys() {
			anInternal.Keys = append(anInternal.Keys, aParent.Keys[idx])
			anInternal.Children = append(anInternal.Children, aRight.Children[0])
			aParent.Keys[idx] = aRight.Keys[0]
			aRight.Keys = slices.Delete(aRight.Keys, 0, 1)
			aRight.Children = slices.Delete(aRight.Children, 0, 1)
			ws.Modified(aRight, anInternal, aParent)
			return nil
		}
	}

	switch {
	case aLeft != nil:
		aLeft.Keys = append(aLeft.Keys, aParent.Keys[idx-1])
		aLeft.Keys = append(aLeft.Keys, anInternal.Keys...)
		aLeft.Children = append(aLeft.Children, anInternal.Children...)
		aParent.Keys = slices.Delete(aParent.Keys, idx-1, idx)
		aParent.Children = slices.Delete(aParent.Children, idx, idx+1)
		ws.Modified(aLeft, aParent)
		ws.Free(anInternal.ID)

		t.logger.Sugar().With("into", aLeft.ID, "freed", anInternal.ID).Debug("merged internal node into left sibling")
	case aRight != nil:
		anInternal.Keys = append(anInternal.Keys, aParent.Keys[idx])
		anInternal.Keys = append(anInternal.Keys, aRight.Keys...)
		anInternal.Children = append(anInternal.Children, aRight.Children...)
		aParent.Keys = slices.Delete(aParent.Keys, idx, idx+1)
		aParent.Children = slices.Delete(aParent.Children, idx+1, idx+2)
		ws.Modified(anInternal, aParent)
		ws.Free(aRight.ID)

		t.logger.Sugar().With("into", anInternal.ID, "freed", aRight.ID).Debug("merged right sibling into internal node")
	default:
		return fmt.Errorf("%w: internal node %d has no siblings", pager.ErrCorruptBlock, anInternal.ID)
	}

	return t.rebalanceInternal(ctx, ws, aParent, key)
}
