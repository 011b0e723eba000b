package node

import (
	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// Internal holds n separator keys and n+1 children. Child i holds keys lower
// than Keys[i] and not lower than Keys[i-1].
type Internal struct {
	ID       pager.BlockID
	Keys     []int32
	Children []pager.BlockID
}

func (n *Internal) BlockID() pager.BlockID { return n.ID }

func (n *Internal) Type() pager.BlockType { return pager.BlockInternal }

func (n *Internal) isNode() {}

func (n *Internal) Size() uint64 {
	return uint64(4 + 4*len(n.Keys) + 4 + 4*len(n.Children))
}

func (n *Internal) Marshal(buf []byte) ([]byte, error) {
	size := n.Size()
	if uint64(cap(buf)) >= size {
		buf = buf[:size]
	} else {
		buf = make([]byte, size)
	}

	i := marshalKeys(buf, n.Keys, 0)

	marshalUint32(buf, uint32(len(n.Children)), i)
	i += 4

	for _, child := range n.Children {
		marshalUint32(buf, uint32(child), i)
		i += 4
	}

	return buf[:i], nil
}

func (n *Internal) Unmarshal(buf []byte) (uint64, error) {
	keys, i, err := unmarshalKeys(buf, 0)
	if err != nil {
		return 0, err
	}
	n.Keys = keys

	count, err := unmarshalUint32(buf, i)
	if err != nil {
		return 0, err
	}
	i += 4
	if int(count) != len(n.Keys)+1 {
		return 0, corruptf("internal node has %d keys but %d children", len(n.Keys), count)
	}

	n.Children = make([]pager.BlockID, 0, count)
	for range count {
		child, err := unmarshalUint32(buf, i)
		if err != nil {
			return 0, err
		}
		if pager.BlockID(child) == pager.NoBlock {
			return 0, corruptf("internal node references no block")
		}
		n.Children = append(n.Children, pager.BlockID(child))
		i += 4
	}

	return i, nil
}

// ChildIndex returns the position of the child to descend into for key: the
// first separator strictly greater than key, else the last child.
func (n *Internal) ChildIndex(key int32) int {
	lo, hi := 0, len(n.Keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if n.Keys[mid] > key {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
