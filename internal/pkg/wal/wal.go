// Package wal implements an append-only redo log of block writes and deletes.
//
// Record format, little endian:
//
//	write:  [1:1][block id:4][length:4][payload:length]
//	delete: [2:1][block id:4]
//
// A write payload is a block image: the block type byte followed by the
// block payload.
package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

type EntryType uint8

const (
	EntryWrite  EntryType = 1
	EntryDelete EntryType = 2
)

func (t EntryType) String() string {
	switch t {
	case EntryWrite:
		return "write"
	case EntryDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const (
	writeHeaderSize  = 1 + 4 + 4
	deleteRecordSize = 1 + 4
	maxImageSize     = 1 + pager.MaxPayloadSize
)

var (
	ErrCorruptLog      = fmt.Errorf("corrupt log")
	ErrTruncatedRecord = fmt.Errorf("truncated log record")
)

// Entry is a single redo record. Payload is empty for deletes.
type Entry struct {
	Type    EntryType
	BlockID pager.BlockID
	Payload []byte
}

type LogFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
}

type Log struct {
	file   LogFile
	logger *zap.Logger
	sync   bool

	mu     sync.Mutex
	offset int64
}

type Option func(*Log)

// WithSync controls whether every append is fsynced before returning.
// Turning it off trades crash durability for speed.
func WithSync(enabled bool) Option {
	return func(l *Log) {
		l.sync = enabled
	}
}

// Open opens or creates the log file at path.
func Open(logger *zap.Logger, path string, opts ...Option) (*Log, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	aLog, err := New(logger, file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}

	return aLog, nil
}

func New(logger *zap.Logger, file LogFile, opts ...Option) (*Log, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	aLog := &Log{
		file:   file,
		logger: logger,
		sync:   true,
		offset: info.Size(),
	}
	for _, opt := range opts {
		opt(aLog)
	}

	return aLog, nil
}

// LogWrite appends a write record for the block image.
func (l *Log) LogWrite(ctx context.Context, id pager.BlockID, payload []byte) error {
	buf, err := appendEntry(nil, Entry{Type: EntryWrite, BlockID: id, Payload: payload})
	if err != nil {
		return err
	}

	if err := l.append(buf); err != nil {
		return fmt.Errorf("log write of block %d: %w", id, err)
	}
	return nil
}

// LogDelete appends a delete record for the block.
func (l *Log) LogDelete(ctx context.Context, id pager.BlockID) error {
	buf, err := appendEntry(nil, Entry{Type: EntryDelete, BlockID: id})
	if err != nil {
		return err
	}

	if err := l.append(buf); err != nil {
		return fmt.Errorf("log delete of block %d: %w", id, err)
	}
	return nil
}

// LogBatch appends the entries with one write and at most one fsync. When it
// fails the log is left as it was before the call, none of the entries is
// appended.
func (l *Log) LogBatch(ctx context.Context, entries []Entry) error {
	var (
		buf []byte
		err error
	)
	for _, anEntry := range entries {
		buf, err = appendEntry(buf, anEntry)
		if err != nil {
			return err
		}
	}
	if len(buf) == 0 {
		return nil
	}

	if err := l.append(buf); err != nil {
		return fmt.Errorf("log batch of %d records: %w", len(entries), err)
	}
	return nil
}

func appendEntry(buf []byte, anEntry Entry) ([]byte, error) {
	switch anEntry.Type {
	case EntryWrite:
		if len(anEntry.Payload) > maxImageSize {
			return nil, fmt.Errorf("log write of block %d: %w", anEntry.BlockID, pager.ErrOversizedPayload)
		}
		buf = append(buf, byte(EntryWrite))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(anEntry.BlockID))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(anEntry.Payload)))
		return append(buf, anEntry.Payload...), nil
	case EntryDelete:
		buf = append(buf, byte(EntryDelete))
		return binary.LittleEndian.AppendUint32(buf, uint32(anEntry.BlockID)), nil
	default:
		return nil, fmt.Errorf("%w: cannot append %s record for block %d", ErrCorruptLog, anEntry.Type, anEntry.BlockID)
	}
}

func (l *Log) append(buf []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// offset only moves once the whole buffer is written and synced.
	if _, err := l.file.WriteAt(buf, l.offset); err != nil {
		l.discardTail()
		return err
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			l.discardTail()
			return err
		}
	}
	l.offset += int64(len(buf))

	return nil
}

// discardTail drops whatever a failed append left past offset.
func (l *Log) discardTail() {
	if err := l.file.Truncate(l.offset); err != nil {
		l.logger.Sugar().With("offset", l.offset, "error", err).Warn("could not discard torn log tail")
	}
}

// Entries returns the records in append order. Every iteration starts from
// the beginning of the log. A record cut short at the tail yields
// ErrTruncatedRecord and an unknown tag yields ErrCorruptLog; both end the sequence.
func (l *Log) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		reader := bufio.NewReader(io.NewSectionReader(l.file, 0, l.Size()))

		var offset int64
		for {
			tag, err := reader.ReadByte()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Entry{}, fmt.Errorf("read log at offset %d: %w", offset, err))
				return
			}

			anEntry, n, err := readEntry(reader, EntryType(tag))
			if err != nil {
				yield(Entry{}, fmt.Errorf("read log at offset %d: %w", offset, err))
				return
			}
			offset += int64(n)

			if !yield(anEntry, nil) {
				return
			}
		}
	}
}

func readEntry(reader io.Reader, tag EntryType) (Entry, int, error) {
	switch tag {
	case EntryWrite:
		header := make([]byte, writeHeaderSize-1)
		if _, err := io.ReadFull(reader, header); err != nil {
			return Entry{}, 0, truncatedErr(err)
		}
		size := binary.LittleEndian.Uint32(header[4:8])
		if size > maxImageSize {
			return Entry{}, 0, fmt.Errorf("%w: write record of %d bytes", ErrCorruptLog, size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return Entry{}, 0, truncatedErr(err)
		}
		return Entry{
			Type:    EntryWrite,
			BlockID: pager.BlockID(binary.LittleEndian.Uint32(header[0:4])),
			Payload: payload,
		}, writeHeaderSize + int(size), nil
	case EntryDelete:
		header := make([]byte, deleteRecordSize-1)
		if _, err := io.ReadFull(reader, header); err != nil {
			return Entry{}, 0, truncatedErr(err)
		}
		return Entry{
			Type:    EntryDelete,
			BlockID: pager.BlockID(binary.LittleEndian.Uint32(header)),
		}, deleteRecordSize, nil
	default:
		return Entry{}, 0, fmt.Errorf("%w: unknown record tag %d", ErrCorruptLog, uint8(tag))
	}
}

func truncatedErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedRecord
	}
	return err
}

// Truncate discards every record. Only call it once all logged blocks are
// durably written to the page store.
func (l *Log) Truncate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync truncated log: %w", err)
	}
	l.offset = 0

	return nil
}

// Size is the number of bytes appended since the last truncate.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

func (l *Log) Close() error {
	return l.file.Close()
}
