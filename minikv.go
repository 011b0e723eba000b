// Package minikv is an embedded key-value store of named tables, each one a
// B+ tree over int32 keys and string values, kept in a single block file
// with a write-ahead log next to it.
package minikv

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/RichardKnop/minikv/internal/minikv"
	"github.com/RichardKnop/minikv/internal/pkg/logging"
	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

// MainTable always exists and cannot be dropped.
const MainTable = minikv.MainTable

var (
	ErrTableExists      = minikv.ErrTableExists
	ErrTableNotFound    = minikv.ErrTableNotFound
	ErrReservedTable    = minikv.ErrReservedTable
	ErrDatabaseLocked   = minikv.ErrDatabaseLocked
	ErrClosed           = minikv.ErrClosed
	ErrInvalidDegree    = minikv.ErrInvalidDegree
	ErrCorruptBlock     = pager.ErrCorruptBlock
	ErrOversizedPayload = pager.ErrOversizedPayload
)

type (
	Entry     = minikv.Entry
	Stats     = minikv.Stats
	TableInfo = minikv.TableInfo
)

// DB is an open database. It owns the database file exclusively until Close.
type DB struct {
	db     *minikv.Database
	config *ConnectionConfig
	logger *zap.Logger
}

// Open opens the database described by the connection string, see
// ParseConnectionString for the supported parameters.
func Open(connStr string) (*DB, error) {
	return OpenContext(context.Background(), connStr)
}

func OpenContext(ctx context.Context, connStr string) (*DB, error) {
	config, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(config.GetZapLevel().Level())
	if err != nil {
		return nil, err
	}

	return open(ctx, logger, config)
}

func open(ctx context.Context, logger *zap.Logger, config *ConnectionConfig) (*DB, error) {
	aDatabase, err := minikv.Open(ctx, logger, config.FilePath, config.DatabaseOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{
		db:     aDatabase,
		config: config,
		logger: logger,
	}, nil
}

func (d *DB) Config() ConnectionConfig {
	return *d.config
}

func (d *DB) CreateTable(ctx context.Context, name string) error {
	return d.db.CreateTable(ctx, name)
}

func (d *DB) DropTable(ctx context.Context, name string) error {
	return d.db.DropTable(ctx, name)
}

// Tables lists table names in ascending order.
func (d *DB) Tables() []string {
	return d.db.ListTables()
}

// DescribeTables reports height and entry count of every table.
func (d *DB) DescribeTables(ctx context.Context) ([]TableInfo, error) {
	return d.db.DescribeTables(ctx)
}

// Insert stores value under key, replacing any previous value.
func (d *DB) Insert(ctx context.Context, table string, key int32, value string) error {
	return d.db.Insert(ctx, table, key, value)
}

// Search reports false when the key or the table does not exist.
func (d *DB) Search(ctx context.Context, table string, key int32) (string, bool, error) {
	return d.db.Search(ctx, table, key)
}

// Delete reports whether the key existed. Deleting a missing key is not an error.
func (d *DB) Delete(ctx context.Context, table string, key int32) (bool, error) {
	return d.db.Delete(ctx, table, key)
}

// RangeSearch returns entries with start <= key <= end in ascending key order.
func (d *DB) RangeSearch(ctx context.Context, table string, start, end int32) ([]Entry, error) {
	return d.db.RangeSearch(ctx, table, start, end)
}

func (d *DB) Checkpoint(ctx context.Context) error {
	return d.db.Checkpoint(ctx)
}

func (d *DB) Stats() Stats {
	return d.db.Stats()
}

// Close flushes everything to the database file and releases it.
func (d *DB) Close(ctx context.Context) error {
	err := d.db.Close(ctx)
	_ = d.logger.Sync()
	return err
}
