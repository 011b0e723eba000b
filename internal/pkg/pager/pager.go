package pager

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"
)

var (
	ErrCorruptBlock     = fmt.Errorf("corrupt block")
	ErrOversizedPayload = fmt.Errorf("payload exceeds block capacity")
	ErrBlockNotFound    = fmt.Errorf("block not found")

	errNotLoaded     = fmt.Errorf("page store not loaded")
	errReservedBlock = fmt.Errorf("reserved block cannot be freed")
	errDoubleFree    = fmt.Errorf("block is already free")
	errNoSpace       = fmt.Errorf("block id space exhausted")
)

// maxFreeListIDs is how many ids fit in the free-list block after the count.
const maxFreeListIDs = (MaxPayloadSize - 4) / 4

type DBFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Stat() (os.FileInfo, error)
	Sync() error
}

// Pager reads and writes fixed size blocks and hands out block ids,
// preferring the lowest freed id over growing the file.
type Pager struct {
	file   DBFile
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	nextID BlockID
	free   *btree.BTreeG[BlockID]
}

// New wraps the database file. Reads and writes work straight away but
// allocation needs Load, which must run after the log has been replayed.
func New(logger *zap.Logger, file DBFile) *Pager {
	return &Pager{
		file:   file,
		logger: logger,
		free:   btree.NewOrderedG[BlockID](16),
	}
}

// Load derives the next block id from the file size and reads the persisted free list.
func (p *Pager) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.file.Stat()
	if err != nil {
		return fmt.Errorf("stat database file: %w", err)
	}
	totalBlocks := (info.Size() + BlockSize - 1) / BlockSize
	if totalBlocks >= int64(NoBlock) {
		return fmt.Errorf("database file too large: %d bytes", info.Size())
	}
	p.nextID = max(FirstDataBlock, BlockID(totalBlocks))

	ids, err := p.readFreeList(ctx)
	if err != nil {
		return err
	}

	p.free.Clear(false)
	for _, id := range ids {
		if id < FirstDataBlock || id >= p.nextID {
			p.logger.Sugar().With("block_id", id).Warn("ignoring out of range id in free list")
			continue
		}
		if _, found := p.free.ReplaceOrInsert(id); found {
			p.logger.Sugar().With("block_id", id).Warn("ignoring duplicate id in free list")
		}
	}
	p.loaded = true

	p.logger.Sugar().With(
		"file_size", info.Size(),
		"next_block", p.nextID,
		"free_blocks", p.free.Len(),
	).Debug("loaded page store")

	return nil
}

func (p *Pager) readFreeList(ctx context.Context) ([]BlockID, error) {
	aBlock, err := p.Read(ctx, FreeListBlock)
	if err != nil {
		if errors.Is(err, ErrBlockNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read free list: %w", err)
	}
	if aBlock.IsEmpty() {
		return nil, nil
	}
	return UnmarshalFreeList(aBlock)
}

// Read returns the block stored at id. Reading past the end of the file
// returns ErrBlockNotFound.
func (p *Pager) Read(ctx context.Context, id BlockID) (Block, error) {
	if id == NoBlock {
		return Block{}, fmt.Errorf("%w: no block id", ErrBlockNotFound)
	}

	buf := make([]byte, BlockSize)
	n, err := p.file.ReadAt(buf, int64(id)*BlockSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return Block{}, fmt.Errorf("read block %d: %w", id, err)
	}
	if n == 0 {
		return Block{}, fmt.Errorf("%w: %d", ErrBlockNotFound, id)
	}

	aBlock := Block{ID: id}
	if err := aBlock.Unmarshal(buf[:n]); err != nil {
		return Block{}, err
	}

	return aBlock, nil
}

// Write overwrites the whole region of the block, zero padding after the payload.
func (p *Pager) Write(ctx context.Context, aBlock Block) error {
	if aBlock.ID == NoBlock {
		return fmt.Errorf("write block: invalid block id")
	}

	buf, err := aBlock.Marshal(nil)
	if err != nil {
		return err
	}

	if _, err := p.file.WriteAt(buf, int64(aBlock.ID)*BlockSize); err != nil {
		return fmt.Errorf("write block %d: %w", aBlock.ID, err)
	}

	return nil
}

// Allocate pops the lowest free id, or extends the file by one block.
func (p *Pager) Allocate(ctx context.Context) (BlockID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return 0, errNotLoaded
	}

	if id, ok := p.free.DeleteMin(); ok {
		return id, nil
	}

	if p.nextID == NoBlock {
		return 0, errNoSpace
	}
	id := p.nextID
	p.nextID += 1

	return id, nil
}

// Free makes id available to Allocate. The free list is only persisted by
// SaveFreeList or by writing FreeListBlock through the buffer cache.
func (p *Pager) Free(ctx context.Context, id BlockID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return errNotLoaded
	}
	if id < FirstDataBlock || id == NoBlock {
		return fmt.Errorf("free block %d: %w", id, errReservedBlock)
	}
	if id >= p.nextID {
		return fmt.Errorf("free block %d: beyond next block id %d", id, p.nextID)
	}
	if _, found := p.free.ReplaceOrInsert(id); found {
		return fmt.Errorf("free block %d: %w", id, errDoubleFree)
	}

	return nil
}

// Reserve takes a freed id back out of the free list, undoing Free.
func (p *Pager) Reserve(ctx context.Context, id BlockID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return errNotLoaded
	}
	if _, found := p.free.Delete(id); !found {
		return fmt.Errorf("reserve block %d: not in free list", id)
	}

	return nil
}

// FreeListBlock encodes the current free list. Ids that do not fit in one
// block stay usable for this process but are not persisted.
func (p *Pager) FreeListBlock() Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]BlockID, 0, min(p.free.Len(), maxFreeListIDs))
	p.free.Ascend(func(id BlockID) bool {
		ids = append(ids, id)
		return len(ids) < maxFreeListIDs
	})
	if leaked := p.free.Len() - len(ids); leaked > 0 {
		p.logger.Sugar().With("leaked", leaked).Warn("free list does not fit in one block")
	}

	return MarshalFreeList(ids)
}

// SaveFreeList writes the free list block directly to the file.
func (p *Pager) SaveFreeList(ctx context.Context) error {
	if err := p.Write(ctx, p.FreeListBlock()); err != nil {
		return fmt.Errorf("save free list: %w", err)
	}
	return nil
}

func (p *Pager) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

func (p *Pager) NextID() BlockID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextID
}

func (p *Pager) Sync() error {
	return p.file.Sync()
}

func (p *Pager) Close() error {
	return p.file.Close()
}

func MarshalFreeList(ids []BlockID) Block {
	payload := make([]byte, 4+4*len(ids))
	binary.LittleEndian.PutUint32(payload, uint32(len(ids)))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(payload[4+4*i:], uint32(id))
	}
	return Block{
		ID:      FreeListBlock,
		Type:    BlockMeta,
		Payload: payload,
	}
}

func UnmarshalFreeList(aBlock Block) ([]BlockID, error) {
	if aBlock.Type != BlockMeta {
		return nil, fmt.Errorf("%w: free list has type %s", ErrCorruptBlock, aBlock.Type)
	}
	if len(aBlock.Payload) < 4 {
		return nil, fmt.Errorf("%w: free list too short", ErrCorruptBlock)
	}
	count := binary.LittleEndian.Uint32(aBlock.Payload)
	if uint64(len(aBlock.Payload)) != 4+4*uint64(count) {
		return nil, fmt.Errorf("%w: free list count %d does not match %d bytes", ErrCorruptBlock, count, len(aBlock.Payload))
	}

	ids := make([]BlockID, 0, count)
	for i := uint32(0); i < count; i++ {
		ids = append(ids, BlockID(binary.LittleEndian.Uint32(aBlock.Payload[4+4*i:])))
	}

	return ids, nil
}
