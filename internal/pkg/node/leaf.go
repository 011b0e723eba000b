package node

import (
	"encoding/binary"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// Leaf holds sorted unique keys with their values and links to the next leaf
// in key order, or pager.NoBlock for the last leaf.
type Leaf struct {
	ID     pager.BlockID
	Keys   []int32
	Values []string
	Next   pager.BlockID
}

func NewLeaf(id pager.BlockID) *Leaf {
	return &Leaf{
		ID:   id,
		Next: pager.NoBlock,
	}
}

func (n *Leaf) BlockID() pager.BlockID { return n.ID }

func (n *Leaf) Type() pager.BlockType { return pager.BlockLeaf }

func (n *Leaf) isNode() {}

func (n *Leaf) Size() uint64 {
	size := uint64(4 + 4*len(n.Keys) + 4 + 4)
	for _, value := range n.Values {
		size += uint64(uvarintLen(uint64(len(value))) + len(value))
	}
	return size
}

func (n *Leaf) Marshal(buf []byte) ([]byte, error) {
	size := n.Size()
	if uint64(cap(buf)) >= size {
		buf = buf[:size]
	} else {
		buf = make([]byte, size)
	}

	i := marshalKeys(buf, n.Keys, 0)

	marshalUint32(buf, uint32(len(n.Values)), i)
	i += 4

	for _, value := range n.Values {
		i += uint64(binary.PutUvarint(buf[i:], uint64(len(value))))
		i += uint64(copy(buf[i:], value))
	}

	marshalUint32(buf, uint32(n.Next), i)
	i += 4

	return buf[:i], nil
}

func (n *Leaf) Unmarshal(buf []byte) (uint64, error) {
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
	if int(count) != len(n.Keys) {
		return 0, corruptf("leaf has %d keys but %d values", len(n.Keys), count)
	}

	n.Values = make([]string, 0, count)
	for range count {
		length, read := binary.Uvarint(buf[i:])
		if read <= 0 {
			return 0, corruptf("bad value length at offset %d", i)
		}
		i += uint64(read)
		if length > uint64(len(buf))-i {
			return 0, corruptf("value length %d exceeds payload", length)
		}
		n.Values = append(n.Values, string(buf[i:i+length]))
		i += length
	}

	next, err := unmarshalUint32(buf, i)
	if err != nil {
		return 0, err
	}
	n.Next = pager.BlockID(next)
	i += 4

	return i, nil
}

func uvarintLen(v uint64) int {
	var buf [binary.MaxVarintLen64]byte
	return binary.PutUvarint(buf[:], v)
}
