package buffer

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"go.uber.org/zap"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
	"github.com/RichardKnop/minikv/internal/pkg/wal"
)

const DefaultCapacity = 100

var (
	ErrNotResident = fmt.Errorf("block not resident in buffer cache")

	errCacheInUse = fmt.Errorf("recover must run before the cache is used")
)

//go:generate mockery --name=BlockStore --structname=MockBlockStore --inpackage --case=snake --testonly
type BlockStore interface {
	Read(context.Context, pager.BlockID) (pager.Block, error)
	Write(context.Context, pager.Block) error
	Sync() error
}

//go:generate mockery --name=Log --structname=MockLog --inpackage --case=snake --testonly
type Log interface {
	LogWrite(context.Context, pager.BlockID, []byte) error
	LogBatch(context.Context, []wal.Entry) error
	Truncate(context.Context) error
	Entries() iter.Seq2[wal.Entry, error]
}

type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
	Resident   int
	Dirty      int
}

// Cache keeps the most recently used blocks in memory. Every write is logged
// before it becomes visible in the cache, and dirty blocks reach the store on
// eviction or Flush. One mutex guards the LRU order and the dirty set together.
//
// Blocks returned by Get share memory with the cache and must not be modified.
type Cache struct {
	store  BlockStore
	log    Log
	logger *zap.Logger

	mu    sync.Mutex
	lru   *freelru.LRU[pager.BlockID, pager.Block]
	dirty map[pager.BlockID]struct{}
	// evicted collects blocks pushed out by the last LRU insert until they are written back
	evicted []pager.Block
	// spilled holds dirty blocks whose write-back failed, they stay dirty
	spilled map[pager.BlockID]pager.Block
	stats   Stats
}

func New(logger *zap.Logger, store BlockStore, log Log, capacity int) (*Cache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("buffer cache capacity must be positive, got %d", capacity)
	}

	lru, err := freelru.New[pager.BlockID, pager.Block](uint32(capacity), hashBlockID)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	c := &Cache{
		store:   store,
		log:     log,
		logger:  logger,
		lru:     lru,
		dirty:   make(map[pager.BlockID]struct{}),
		spilled: make(map[pager.BlockID]pager.Block),
	}
	lru.SetOnEvict(func(id pager.BlockID, aBlock pager.Block) {
		c.evicted = append(c.evicted, aBlock)
	})

	return c, nil
}

func hashBlockID(id pager.BlockID) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(id))
	return uint32(xxhash.Sum64(buf[:]))
}

// Get returns the block, loading it from the store on a miss.
func (c *Cache) Get(ctx context.Context, id pager.BlockID) (pager.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if aBlock, ok := c.lru.Get(id); ok {
		c.stats.Hits += 1
		return aBlock, nil
	}
	if aBlock, ok := c.spilled[id]; ok {
		c.stats.Hits += 1
		return aBlock, nil
	}
	c.stats.Misses += 1

	aBlock, err := c.store.Read(ctx, id)
	if err != nil {
		return pager.Block{}, err
	}

	c.lru.Add(id, aBlock)
	if err := c.writeBackEvicted(ctx); err != nil {
		return pager.Block{}, err
	}

	return aBlock, nil
}

// Put logs the block and then caches it as dirty.
func (c *Cache) Put(ctx context.Context, aBlock pager.Block) error {
	if len(aBlock.Payload) > pager.MaxPayloadSize {
		return fmt.Errorf("put block %d: %w", aBlock.ID, pager.ErrOversizedPayload)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.log.LogWrite(ctx, aBlock.ID, aBlock.Image()); err != nil {
		return err
	}

	return c.cacheDirty(ctx, aBlock)
}

// Apply logs every write and delete as one batch, then caches all of them as
// dirty, writes first. When logging fails the cache is left untouched. Once
// the batch is logged the change is applied in full: a failed write-back of
// an evicted block keeps that block dirty for Flush instead of failing Apply.
func (c *Cache) Apply(ctx context.Context, writes []pager.Block, deletes []pager.BlockID) error {
	entries := make([]wal.Entry, 0, len(writes)+len(deletes))
	for _, aBlock := range writes {
		if len(aBlock.Payload) > pager.MaxPayloadSize {
			return fmt.Errorf("apply block %d: %w", aBlock.ID, pager.ErrOversizedPayload)
		}
		entries = append(entries, wal.Entry{Type: wal.EntryWrite, BlockID: aBlock.ID, Payload: aBlock.Image()})
	}
	for _, id := range deletes {
		entries = append(entries, wal.Entry{Type: wal.EntryDelete, BlockID: id})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.log.LogBatch(ctx, entries); err != nil {
		return err
	}

	tombstones := make([]pager.Block, 0, len(deletes))
	for _, id := range deletes {
		tombstones = append(tombstones, pager.Block{ID: id, Type: pager.BlockLeaf})
	}
	for _, aBlock := range slices.Concat(writes, tombstones) {
		if err := c.cacheDirty(ctx, aBlock); err != nil {
			c.logger.Sugar().With("block_id", aBlock.ID, "error", err).Warn("write back failed, block stays dirty")
		}
	}

	return nil
}

func (c *Cache) cacheDirty(ctx context.Context, aBlock pager.Block) error {
	delete(c.spilled, aBlock.ID)
	c.lru.Add(aBlock.ID, aBlock)
	c.dirty[aBlock.ID] = struct{}{}

	return c.writeBackEvicted(ctx)
}

// MarkDirty flags a resident block for write-back, logging its current content.
func (c *Cache) MarkDirty(ctx context.Context, id pager.BlockID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	aBlock, ok := c.lru.Get(id)
	if !ok {
		aBlock, ok = c.spilled[id]
	}
	if !ok {
		return fmt.Errorf("mark block %d dirty: %w", id, ErrNotResident)
	}

	if err := c.log.LogWrite(ctx, id, aBlock.Image()); err != nil {
		return err
	}
	c.dirty[id] = struct{}{}

	return nil
}

func (c *Cache) writeBackEvicted(ctx context.Context) error {
	evicted := c.evicted
	c.evicted = nil

	var firstErr error
	for _, aBlock := range evicted {
		c.stats.Evictions += 1
		if _, ok := c.dirty[aBlock.ID]; !ok {
			continue
		}
		if err := c.store.Write(ctx, aBlock); err != nil {
			c.spilled[aBlock.ID] = aBlock
			if firstErr == nil {
				firstErr = fmt.Errorf("write back block %d: %w", aBlock.ID, err)
			}
			continue
		}
		delete(c.dirty, aBlock.ID)
		c.stats.WriteBacks += 1

		c.logger.Sugar().With("block_id", aBlock.ID).Debug("wrote back evicted dirty block")
	}

	return firstErr
}

// Flush writes every dirty block to the store, syncs it and truncates the log.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := slices.Sorted(maps.Keys(c.dirty))
	for _, id := range ids {
		aBlock, ok := c.spilled[id]
		if !ok {
			aBlock, ok = c.lru.Peek(id)
		}
		if !ok {
			return fmt.Errorf("flush: dirty block %d: %w", id, ErrNotResident)
		}
		if err := c.store.Write(ctx, aBlock); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		delete(c.dirty, id)
		delete(c.spilled, id)
	}

	if err := c.store.Sync(); err != nil {
		return fmt.Errorf("flush: sync store: %w", err)
	}
	if err := c.log.Truncate(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	c.logger.Sugar().With("blocks", len(ids)).Debug("flushed buffer cache")

	return nil
}

// Recover replays the log straight into the store. It must run before any
// other call on a freshly created cache.
func (c *Cache) Recover(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Len() > 0 || len(c.dirty) > 0 {
		return 0, errCacheInUse
	}

	return wal.Recover(ctx, c.logger, c.log, c.store)
}

func (c *Cache) Contains(id pager.BlockID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.spilled[id]; ok {
		return true
	}
	return c.lru.Contains(id)
}

func (c *Cache) IsDirty(id pager.BlockID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.dirty[id]
	return ok
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	aStats := c.stats
	aStats.Resident = c.lru.Len() + len(c.spilled)
	aStats.Dirty = len(c.dirty)

	return aStats
}
