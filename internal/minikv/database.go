package minikv

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/RichardKnop/minikv/internal/pkg/buffer"
	"github.com/RichardKnop/minikv/internal/pkg/pager"
	"github.com/RichardKnop/minikv/internal/pkg/wal"
)

var (
	ErrDatabaseLocked = fmt.Errorf("database is locked by another process")
	ErrClosed         = fmt.Errorf("database is closed")
)

// LogPath returns where the write-ahead log of the database at path lives.
func LogPath(path string) string {
	return path + "-wal"
}

// Database owns one database file and its log. It holds an exclusive lock
// on the file while open, and every operation runs under one mutex.
type Database struct {
	path            string
	logger          *zap.Logger
	degree          int
	cacheBlocks     int
	checkpointEvery int
	syncLog         bool

	dbFile *os.File
	pages  *pager.Pager
	log    *wal.Log
	cache  *buffer.Cache

	mu        sync.Mutex
	tables    map[string]*Tree
	catalog   map[string]pager.BlockID
	mutations int
	closed    bool
}

type Stats struct {
	buffer.Stats
	FreeBlocks int
	NextBlock  pager.BlockID
	Tables     int
	LogSize    int64
}

// Open opens or creates the database at path. A non-empty log means the
// previous process did not shut down cleanly, it is replayed into the file
// before anything else reads it.
func Open(ctx context.Context, logger *zap.Logger, path string, opts ...DatabaseOption) (*Database, error) {
	d := &Database{
		path:            path,
		logger:          logger,
		degree:          DefaultDegree,
		cacheBlocks:     buffer.DefaultCapacity,
		checkpointEvery: DefaultCheckpointEvery,
		syncLog:         true,
		tables:          make(map[string]*Tree),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.degree < MinDegree || d.degree > MaxDegree {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidDegree, d.degree)
	}

	dbFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}
	if err := lockFile(dbFile); err != nil {
		dbFile.Close()
		return nil, err
	}
	d.dbFile = dbFile

	if err := d.init(ctx); err != nil {
		return nil, errors.Join(err, d.release())
	}

	logger.Sugar().With(
		"path", path,
		"degree", d.degree,
		"cache_blocks", d.cacheBlocks,
		"tables", len(d.tables),
		"next_block", d.pages.NextID(),
		"free_blocks", d.pages.FreeCount(),
	).Debug("opened database")

	return d, nil
}

func (d *Database) init(ctx context.Context) error {
	aLog, err := wal.Open(d.logger, LogPath(d.path), wal.WithSync(d.syncLog))
	if err != nil {
		return err
	}
	d.log = aLog

	d.pages = pager.New(d.logger, d.dbFile)
	d.cache, err = buffer.New(d.logger, d.pages, d.log, d.cacheBlocks)
	if err != nil {
		return err
	}

	if d.log.Size() > 0 {
		replayed, err := d.cache.Recover(ctx)
		if err != nil {
			return err
		}
		if err := d.log.Truncate(ctx); err != nil {
			return err
		}
		d.logger.Sugar().With("path", d.path, "replayed", replayed).Warn("recovered database from write-ahead log")
	}

	if err := d.pages.Load(ctx); err != nil {
		return err
	}

	if err := d.loadCatalog(ctx); err != nil {
		return err
	}

	mainTree, err := OpenTree(ctx, d.logger, d.cache, d.pages, d.degree, pager.MetadataBlock)
	if err != nil {
		return fmt.Errorf("open table %s: %w", MainTable, err)
	}
	d.tables[MainTable] = mainTree

	for name, metaID := range d.catalog {
		aTree, err := OpenTree(ctx, d.logger, d.cache, d.pages, d.degree, metaID)
		if err != nil {
			return fmt.Errorf("open table %s: %w", name, err)
		}
		d.tables[name] = aTree
	}

	return nil
}

// loadCatalog reads block 2. A catalog that was never written is created empty.
func (d *Database) loadCatalog(ctx context.Context) error {
	aBlock, err := d.cache.Get(ctx, pager.CatalogBlock)
	if err != nil && !errors.Is(err, pager.ErrBlockNotFound) {
		return fmt.Errorf("read catalog: %w", err)
	}
	if err == nil && !aBlock.IsEmpty() {
		d.catalog, err = unmarshalCatalog(aBlock)
		return err
	}

	d.catalog = make(map[string]pager.BlockID)
	return d.saveCatalog(ctx, d.catalog)
}

func (d *Database) saveCatalog(ctx context.Context, tables map[string]pager.BlockID) error {
	aBlock, err := marshalCatalog(tables)
	if err != nil {
		return err
	}
	if err := d.cache.Put(ctx, aBlock); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}

// release closes both files and gives up the lock, whatever state Open reached.
func (d *Database) release() error {
	var errs []error
	if d.log != nil {
		errs = append(errs, d.log.Close())
	}
	errs = append(errs, unlockFile(d.dbFile), d.dbFile.Close())
	return errors.Join(errs...)
}

func (d *Database) Path() string {
	return d.path
}

// CreateTable allocates a metadata block for a new empty tree and records
// it in the catalog.
func (d *Database) CreateTable(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if err := validateTableName(name); err != nil {
		return err
	}
	if name == MainTable {
		return fmt.Errorf("%w: %s", ErrReservedTable, name)
	}
	if _, ok := d.tables[name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	tables := maps.Clone(d.catalog)
	tables[name] = pager.NoBlock
	if _, err := marshalCatalog(tables); err != nil {
		return err
	}

	metaID, err := d.pages.Allocate(ctx)
	if err != nil {
		return fmt.Errorf("allocate metadata block: %w", err)
	}
	aTree, err := OpenTree(ctx, d.logger, d.cache, d.pages, d.degree, metaID)
	if err != nil {
		if freeErr := d.pages.Free(ctx, metaID); freeErr != nil {
			d.logger.Sugar().With("block_id", metaID, "error", freeErr).Warn("could not release metadata block")
		}
		return fmt.Errorf("create table %s: %w", name, err)
	}

	tables[name] = metaID
	if err := d.saveCatalog(ctx, tables); err != nil {
		return err
	}
	d.catalog = tables
	d.tables[name] = aTree

	d.logger.Sugar().With("table", name, "metadata_block", metaID, "root_block", aTree.RootID()).Debug("created table")

	return d.afterMutation(ctx)
}

// DropTable frees every block of the table and removes it from the catalog.
func (d *Database) DropTable(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if name == MainTable {
		return fmt.Errorf("%w: %s", ErrReservedTable, name)
	}
	aTree, ok := d.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	tables := maps.Clone(d.catalog)
	delete(tables, name)
	catalogBlock, err := marshalCatalog(tables)
	if err != nil {
		return err
	}

	if err := aTree.Drop(ctx, catalogBlock); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	d.catalog = tables
	delete(d.tables, name)

	d.logger.Sugar().With("table", name).Debug("dropped table")

	return d.afterMutation(ctx)
}

// Table returns the tree backing a table.
func (d *Database) Table(name string) (*Tree, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	aTree, ok := d.tables[name]
	return aTree, ok
}

// ListTables returns table names in ascending order, main included.
func (d *Database) ListTables() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Sorted(maps.Keys(d.tables))
}

// TableInfo describes the shape of one table's tree.
type TableInfo struct {
	Name    string
	RootID  pager.BlockID
	Height  int
	Entries int
}

// DescribeTables walks every table, so it reads every block of the database.
func (d *Database) DescribeTables(ctx context.Context) ([]TableInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	infos := make([]TableInfo, 0, len(d.tables))
	for _, name := range slices.Sorted(maps.Keys(d.tables)) {
		aTree := d.tables[name]
		height, err := aTree.Height(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe table %s: %w", name, err)
		}
		entries, err := aTree.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe table %s: %w", name, err)
		}
		infos = append(infos, TableInfo{
			Name:    name,
			RootID:  aTree.RootID(),
			Height:  height,
			Entries: entries,
		})
	}

	return infos, nil
}

func (d *Database) Insert(ctx context.Context, table string, key int32, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	aTree, err := d.writableTable(table)
	if err != nil {
		return err
	}
	if err := aTree.Insert(ctx, key, value); err != nil {
		return err
	}

	return d.afterMutation(ctx)
}

// Search returns the value under key. A missing table holds no keys.
func (d *Database) Search(ctx context.Context, table string, key int32) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", false, ErrClosed
	}
	aTree, ok := d.tables[table]
	if !ok {
		return "", false, nil
	}

	return aTree.Search(ctx, key)
}

// Delete removes key from the table, reporting whether it was there.
func (d *Database) Delete(ctx context.Context, table string, key int32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	aTree, err := d.writableTable(table)
	if err != nil {
		return false, err
	}
	deleted, err := aTree.Delete(ctx, key)
	if err != nil || !deleted {
		return false, err
	}

	return true, d.afterMutation(ctx)
}

func (d *Database) RangeSearch(ctx context.Context, table string, start, end int32) ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	aTree, ok := d.tables[table]
	if !ok {
		return make([]Entry, 0), nil
	}

	return aTree.RangeSearch(ctx, start, end)
}

func (d *Database) writableTable(name string) (*Tree, error) {
	if d.closed {
		return nil, ErrClosed
	}
	aTree, ok := d.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return aTree, nil
}

func (d *Database) afterMutation(ctx context.Context) error {
	d.mutations += 1
	if d.checkpointEvery == 0 || d.mutations < d.checkpointEvery {
		return nil
	}
	return d.checkpoint(ctx)
}

// Checkpoint writes every dirty block to the file and empties the log.
func (d *Database) Checkpoint(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	return d.checkpoint(ctx)
}

func (d *Database) checkpoint(ctx context.Context) error {
	if err := d.cache.Flush(ctx); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	d.logger.Sugar().With("mutations", d.mutations).Debug("checkpoint complete")
	d.mutations = 0

	return nil
}

func (d *Database) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	aStats := Stats{
		Tables: len(d.tables),
	}
	if d.closed {
		return aStats
	}
	aStats.Stats = d.cache.Stats()
	aStats.FreeBlocks = d.pages.FreeCount()
	aStats.NextBlock = d.pages.NextID()
	aStats.LogSize = d.log.Size()

	return aStats
}

// Close persists every root pointer, flushes, saves the free list, then
// releases the lock and closes both files. Closing twice is a no-op.
func (d *Database) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(d.tables)) {
		if err := d.tables[name].PersistMetadata(ctx); err != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", name, err))
		}
	}
	if len(errs) == 0 {
		if err := d.cache.Flush(ctx); err != nil {
			errs = append(errs, err)
		} else if err := d.pages.SaveFreeList(ctx); err != nil {
			errs = append(errs, err)
		} else if err := d.pages.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync database file: %w", err))
		}
	}
	errs = append(errs, d.release())

	d.logger.Sugar().With("path", d.path).Debug("closed database")

	return errors.Join(errs...)
}
