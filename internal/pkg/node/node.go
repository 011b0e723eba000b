// Package node holds the two B+ tree node variants and their binary encoding
// into block payloads. All integers are little endian.
package node

import (
	"encoding/binary"
	"fmt"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// Node is either a *Leaf or an *Internal.
type Node interface {
	BlockID() pager.BlockID
	Type() pager.BlockType
	Size() uint64
	Marshal(buf []byte) ([]byte, error)
	Unmarshal(buf []byte) (uint64, error)

	isNode()
}

// Encode marshals the node into a block. A node whose payload would not fit
// into one block returns pager.ErrOversizedPayload.
func Encode(aNode Node) (pager.Block, error) {
	if size := aNode.Size(); size > pager.MaxPayloadSize {
		return pager.Block{}, fmt.Errorf(
			"%w: %s node %d needs %d bytes, max %d",
			pager.ErrOversizedPayload, aNode.Type(), aNode.BlockID(), size, pager.MaxPayloadSize,
		)
	}

	payload, err := aNode.Marshal(nil)
	if err != nil {
		return pager.Block{}, err
	}

	return pager.Block{
		ID:      aNode.BlockID(),
		Type:    aNode.Type(),
		Payload: payload,
	}, nil
}

// Decode unmarshals a block into the node variant named by its type tag.
func Decode(aBlock pager.Block) (Node, error) {
	var aNode Node
	switch aBlock.Type {
	case pager.BlockLeaf:
		aNode = &Leaf{ID: aBlock.ID}
	case pager.BlockInternal:
		aNode = &Internal{ID: aBlock.ID}
	default:
		return nil, fmt.Errorf("%w: block %d has type %s, expected a tree node", pager.ErrCorruptBlock, aBlock.ID, aBlock.Type)
	}

	n, err := aNode.Unmarshal(aBlock.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode block %d: %w", aBlock.ID, err)
	}
	if n != uint64(len(aBlock.Payload)) {
		return nil, fmt.Errorf("decode block %d: %w: %d trailing bytes", aBlock.ID, pager.ErrCorruptBlock, uint64(len(aBlock.Payload))-n)
	}

	return aNode, nil
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", pager.ErrCorruptBlock, fmt.Sprintf(format, args...))
}

func marshalUint32(buf []byte, v uint32, i uint64) {
	binary.LittleEndian.PutUint32(buf[i:], v)
}

func unmarshalUint32(buf []byte, i uint64) (uint32, error) {
	if uint64(len(buf)) < i+4 {
		return 0, corruptf("unexpected end of payload at offset %d", i)
	}
	return binary.LittleEndian.Uint32(buf[i:]), nil
}

func marshalKeys(buf []byte, keys []int32, i uint64) uint64 {
	marshalUint32(buf, uint32(len(keys)), i)
	i += 4
	for _, key := range keys {
		marshalUint32(buf, uint32(key), i)
		i += 4
	}
	return i
}

func unmarshalKeys(buf []byte, i uint64) ([]int32, uint64, error) {
	count, err := unmarshalUint32(buf, i)
	if err != nil {
		return nil, 0, err
	}
	i += 4

	if uint64(count)*4 > uint64(len(buf))-i {
		return nil, 0, corruptf("key count %d exceeds payload", count)
	}

	keys := make([]int32, 0, count)
	for range count {
		key := int32(binary.LittleEndian.Uint32(buf[i:]))
		if len(keys) > 0 && key <= keys[len(keys)-1] {
			return nil, 0, corruptf("keys not in ascending order at %d", key)
		}
		keys = append(keys, key)
		i += 4
	}

	return keys, i, nil
}
