package minikv

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"unicode/utf8"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// MainTable is the built-in table whose metadata lives in block 0. It is
// never stored in the catalog.
const MainTable = "main"

const maxTableNameLength = 255

var (
	ErrTableExists   = fmt.Errorf("table already exists")
	ErrTableNotFound = fmt.Errorf("table does not exist")
	ErrReservedTable = fmt.Errorf("table name is reserved")

	errInvalidTableName = fmt.Errorf("invalid table name")
)

func validateTableName(name string) error {
	if name == "" || len(name) > maxTableNameLength || !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q", errInvalidTableName, name)
	}
	return nil
}

// marshalCatalog encodes table name to metadata block id pairs sorted by name:
// a 4 byte count, then per table a uvarint name length, the name and a 4 byte id.
func marshalCatalog(tables map[string]pager.BlockID) (pager.Block, error) {
	names := slices.Sorted(maps.Keys(tables))

	payload := make([]byte, 4, 4+len(names)*(binary.MaxVarintLen64+4))
	binary.LittleEndian.PutUint32(payload, uint32(len(names)))
	for _, name := range names {
		payload = binary.AppendUvarint(payload, uint64(len(name)))
		payload = append(payload, name...)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(tables[name]))
	}

	if len(payload) > pager.MaxPayloadSize {
		return pager.Block{}, fmt.Errorf("%w: catalog of %d tables needs %d bytes", pager.ErrOversizedPayload, len(names), len(payload))
	}

	return pager.Block{
		ID:      pager.CatalogBlock,
		Type:    pager.BlockMeta,
		Payload: payload,
	}, nil
}

func unmarshalCatalog(aBlock pager.Block) (map[string]pager.BlockID, error) {
	if aBlock.Type != pager.BlockMeta {
		return nil, fmt.Errorf("%w: catalog block has type %s", pager.ErrCorruptBlock, aBlock.Type)
	}

	buf := aBlock.Payload
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: catalog block too short", pager.ErrCorruptBlock)
	}
	count := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]

	tables := make(map[string]pager.BlockID, min(count, 256))
	for i := uint32(0); i < count; i++ {
		nameLen, n := binary.Uvarint(buf)
		if n <= 0 || nameLen > uint64(len(buf)-n) {
			return nil, fmt.Errorf("%w: catalog entry %d has a bad name length", pager.ErrCorruptBlock, i)
		}
		buf = buf[n:]
		name := string(buf[:nameLen])
		buf = buf[nameLen:]

		if len(buf) < 4 {
			return nil, fmt.Errorf("%w: catalog entry %q has no metadata block", pager.ErrCorruptBlock, name)
		}
		metaID := pager.BlockID(binary.LittleEndian.Uint32(buf))
		buf = buf[4:]

		if err := validateTableName(name); err != nil || name == MainTable {
			return nil, fmt.Errorf("%w: catalog holds table %q", pager.ErrCorruptBlock, name)
		}
		if metaID < pager.FirstDataBlock || metaID == pager.NoBlock {
			return nil, fmt.Errorf("%w: table %q points at block %d", pager.ErrCorruptBlock, name, metaID)
		}
		if _, ok := tables[name]; ok {
			return nil, fmt.Errorf("%w: table %q listed twice", pager.ErrCorruptBlock, name)
		}
		tables[name] = metaID
	}

	if len(buf) > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in catalog", pager.ErrCorruptBlock, len(buf))
	}

	return tables, nil
}
