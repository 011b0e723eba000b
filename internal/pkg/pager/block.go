package pager

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	BlockSize       = 4096 // 4 kilobytes
	BlockHeaderSize = 5    // 1 byte type + 4 bytes payload length
	MaxPayloadSize  = BlockSize - BlockHeaderSize
)

// BlockID is the position of a block in the file, its offset is BlockID * BlockSize.
type BlockID uint32

// NoBlock is stored where a block reference is absent, it is -1 as a signed 32 bit integer.
const NoBlock BlockID = math.MaxUint32

// Reserved well known blocks.
const (
	MetadataBlock  BlockID = 0
	FreeListBlock  BlockID = 1
	CatalogBlock   BlockID = 2
	FirstDataBlock BlockID = 3
)

type BlockType byte

const (
	BlockLeaf BlockType = iota
	BlockInternal
	BlockMeta
)

func (t BlockType) String() string {
	switch t {
	case BlockLeaf:
		return "leaf"
	case BlockInternal:
		return "internal"
	case BlockMeta:
		return "meta"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

func (t BlockType) Valid() bool {
	return t <= BlockMeta
}

// Block is the unit of persistence.
type Block struct {
	ID      BlockID
	Type    BlockType
	Payload []byte
}

// IsEmpty reports whether the block carries no payload, which is how an
// unwritten block or a recovery tombstone looks.
func (b Block) IsEmpty() bool {
	return len(b.Payload) == 0
}

// Image returns the type tag followed by the payload, as recorded in the log.
func (b Block) Image() []byte {
	buf := make([]byte, 0, 1+len(b.Payload))
	buf = append(buf, byte(b.Type))
	return append(buf, b.Payload...)
}

// BlockFromImage is the inverse of Image.
func BlockFromImage(id BlockID, image []byte) (Block, error) {
	if len(image) == 0 {
		return Block{}, fmt.Errorf("%w: block %d: empty image", ErrCorruptBlock, id)
	}
	aType := BlockType(image[0])
	if !aType.Valid() {
		return Block{}, fmt.Errorf("%w: block %d: unknown type %d", ErrCorruptBlock, id, image[0])
	}
	return Block{
		ID:      id,
		Type:    aType,
		Payload: append([]byte(nil), image[1:]...),
	}, nil
}

// Marshal frames the block into a full BlockSize buffer, zero padded.
func (b Block) Marshal(buf []byte) ([]byte, error) {
	if len(b.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: block %d: %d bytes, max %d", ErrOversizedPayload, b.ID, len(b.Payload), MaxPayloadSize)
	}
	if cap(buf) >= BlockSize {
		buf = buf[:BlockSize]
		clear(buf)
	} else {
		buf = make([]byte, BlockSize)
	}

	buf[0] = byte(b.Type)
	binary.LittleEndian.PutUint32(buf[1:BlockHeaderSize], uint32(len(b.Payload)))
	copy(buf[BlockHeaderSize:], b.Payload)

	return buf, nil
}

// Unmarshal decodes a framed block. The buffer may be shorter than BlockSize
// when the block sits at the end of a file that was cut short.
func (b *Block) Unmarshal(buf []byte) error {
	if len(buf) < BlockHeaderSize {
		return fmt.Errorf("%w: block %d: short header (%d bytes)", ErrCorruptBlock, b.ID, len(buf))
	}

	b.Type = BlockType(buf[0])
	if !b.Type.Valid() {
		return fmt.Errorf("%w: block %d: unknown type %d", ErrCorruptBlock, b.ID, buf[0])
	}

	size := binary.LittleEndian.Uint32(buf[1:BlockHeaderSize])
	if size > MaxPayloadSize {
		return fmt.Errorf("%w: block %d: payload length %d exceeds %d", ErrCorruptBlock, b.ID, size, MaxPayloadSize)
	}
	if int(size) > len(buf)-BlockHeaderSize {
		return fmt.Errorf("%w: block %d: payload truncated", ErrCorruptBlock, b.ID)
	}

	b.Payload = append([]byte(nil), buf[BlockHeaderSize:BlockHeaderSize+int(size)]...)

	return nil
}
