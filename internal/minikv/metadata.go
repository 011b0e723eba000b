package minikv

import (
	"encoding/binary"
	"fmt"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// A metadata block holds the root block id of one tree.
const metadataSize = 4

func marshalMetadata(metaID, rootID pager.BlockID) pager.Block {
	payload := make([]byte, metadataSize)
	binary.LittleEndian.PutUint32(payload, uint32(rootID))
	return pager.Block{
		ID:      metaID,
		Type:    pager.BlockMeta,
		Payload: payload,
	}
}

func unmarshalMetadata(aBlock pager.Block) (pager.BlockID, error) {
	if aBlock.Type != pager.BlockMeta {
		return 0, fmt.Errorf("%w: metadata block %d has type %s", pager.ErrCorruptBlock, aBlock.ID, aBlock.Type)
	}
	if len(aBlock.Payload) != metadataSize {
		return 0, fmt.Errorf("%w: metadata block %d has %d bytes", pager.ErrCorruptBlock, aBlock.ID, len(aBlock.Payload))
	}

	rootID := pager.BlockID(binary.LittleEndian.Uint32(aBlock.Payload))
	if rootID < pager.FirstDataBlock || rootID == pager.NoBlock {
		return 0, fmt.Errorf("%w: metadata block %d points at block %d", pager.ErrCorruptBlock, aBlock.ID, rootID)
	}

	return rootID, nil
}
