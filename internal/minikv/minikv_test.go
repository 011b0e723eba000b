package minikv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RichardKnop/minikv/internal/pkg/buffer"
	"github.com/RichardKnop/minikv/internal/pkg/logging"
	"github.com/RichardKnop/minikv/internal/pkg/node"
	"github.com/RichardKnop/minikv/internal/pkg/pager"
	"github.com/RichardKnop/minikv/internal/pkg/wal"
)

const testDbName = "test.db"

var (
	gen        = newDataGen(uint64(time.Now().Unix()))
	testLogger *zap.Logger
)

func init() {
	var err error
	testLogger, err = logging.FromEnv(zap.WarnLevel)
	if err != nil {
		panic(err)
	}
}

type dataGen struct {
	*gofakeit.Faker
}

func newDataGen(seed uint64) *dataGen {
	g := dataGen{
		Faker: gofakeit.New(seed),
	}

	return &g
}

// Entries returns n entries with unique keys in random order.
func (g *dataGen) Entries(n int) []Entry {
	seen := make(map[int32]struct{}, n)
	entries := make([]Entry, 0, n)
	for len(entries) < n {
		key := int32(g.IntRange(-100000, 100000))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, Entry{Key: key, Value: g.LetterN(uint(g.IntRange(0, 24)))})
	}
	return entries
}

// testStorage is the stack a tree runs on: page store, log and buffer cache
// over real files in a temporary directory.
type testStorage struct {
	path    string
	dbFile  *os.File
	logFile *cutLogFile
	pages   *pager.Pager
	log     *wal.Log
	cache   *buffer.Cache
}

var errPowerCut = errors.New("power cut")

// cutLogFile fails every write once writesLeft reaches zero, leaving half of
// the buffer behind. A negative writesLeft never fails.
type cutLogFile struct {
	*os.File
	writesLeft int
}

func (f *cutLogFile) WriteAt(p []byte, off int64) (int, error) {
	if f.writesLeft == 0 {
		n, _ := f.File.WriteAt(p[:len(p)/2], off)
		return n, errPowerCut
	}
	if f.writesLeft > 0 {
		f.writesLeft -= 1
	}
	return f.File.WriteAt(p, off)
}

// failLogAfter lets n more log writes through, n < 0 restores the log.
func (s *testStorage) failLogAfter(n int) {
	s.logFile.writesLeft = n
}

// usedBlocks counts ids that are neither free nor beyond the end of the file.
func (s *testStorage) usedBlocks() int {
	return int(s.pages.NextID()) - s.pages.FreeCount()
}

func newTestStorage(t *testing.T, capacity int) *testStorage {
	t.Helper()

	return openTestStorage(t, filepath.Join(t.TempDir(), testDbName), capacity)
}

// openTestStorage replays whatever the log holds before loading the page store.
func openTestStorage(t *testing.T, path string, capacity int) *testStorage {
	t.Helper()

	ctx := context.Background()

	dbFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	require.NoError(t, err)

	logFile, err := os.OpenFile(path+"-wal", os.O_RDWR|os.O_CREATE, 0600)
	require.NoError(t, err)
	aLogFile := &cutLogFile{File: logFile, writesLeft: -1}
	aLog, err := wal.New(testLogger, aLogFile, wal.WithSync(false))
	require.NoError(t, err)

	aPager := pager.New(testLogger, dbFile)
	aCache, err := buffer.New(testLogger, aPager, aLog, capacity)
	require.NoError(t, err)

	_, err = aCache.Recover(ctx)
	require.NoError(t, err)
	require.NoError(t, aLog.Truncate(ctx))
	require.NoError(t, aPager.Load(ctx))

	s := &testStorage{
		path:    path,
		dbFile:  dbFile,
		logFile: aLogFile,
		pages:   aPager,
		log:     aLog,
		cache:   aCache,
	}
	t.Cleanup(s.crash)

	return s
}

// crash drops the files without flushing anything.
func (s *testStorage) crash() {
	s.dbFile.Close()
	s.log.Close()
}

func (s *testStorage) reopen(t *testing.T, capacity int) *testStorage {
	t.Helper()

	s.crash()
	return openTestStorage(t, s.path, capacity)
}

func (s *testStorage) openTree(t *testing.T, degree int) *Tree {
	t.Helper()

	aTree, err := OpenTree(context.Background(), testLogger, s.cache, s.pages, degree, pager.MetadataBlock)
	require.NoError(t, err)

	return aTree
}

func insertEntries(t *testing.T, aTree *Tree, entries []Entry) {
	t.Helper()

	ctx := context.Background()
	for _, anEntry := range entries {
		require.NoError(t, aTree.Insert(ctx, anEntry.Key, anEntry.Value))
	}
}

func sortedEntries(entries []Entry) []Entry {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		return int(a.Key) - int(b.Key)
	})
	return sorted
}

// assertBalanced checks node occupancy, equal leaf depth, key ordering and
// the leaf chain, and returns the entries in leaf chain order.
func assertBalanced(t *testing.T, aTree *Tree) []Entry {
	t.Helper()

	var (
		leaves    []*node.Leaf
		leafDepth = -1
	)
	err := aTree.Walk(context.Background(), func(depth int, aNode node.Node) error {
		isRoot := aNode.BlockID() == aTree.RootID()

		switch current := aNode.(type) {
		case *node.Leaf:
			if leafDepth == -1 {
				leafDepth = depth
			}
			assert.Equal(t, leafDepth, depth, "leaf %d is not at the leaf level", current.ID)
			assert.LessOrEqual(t, len(current.Keys), aTree.Degree(), "leaf %d overflows", current.ID)
			if !isRoot {
				assert.GreaterOrEqual(t, len(current.Keys), aTree.minLeafKeys(), "leaf %d underflows", current.ID)
			}
			assert.Len(t, current.Values, len(current.Keys))
			assert.True(t, slices.IsSorted(current.Keys))
			leaves = append(leaves, current)
		case *node.Internal:
			assert.Len(t, current.Children, len(current.Keys)+1, "internal node %d", current.ID)
			assert.LessOrEqual(t, len(current.Keys), aTree.Degree(), "internal node %d overflows", current.ID)
			if isRoot {
				assert.NotEmpty(t, current.Keys, "internal root without separators")
			} else {
				assert.GreaterOrEqual(t, len(current.Keys), aTree.minInternalKeys(), "internal node %d underflows", current.ID)
			}
			assert.True(t, slices.IsSorted(current.Keys))
		}
		return nil
	})
	require.NoError(t, err)

	var entries []Entry
	for i, aLeaf := range leaves {
		if i < len(leaves)-1 {
			assert.Equal(t, leaves[i+1].ID, aLeaf.Next, "leaf %d does not link to its right neighbour", aLeaf.ID)
		} else {
			assert.Equal(t, pager.NoBlock, aLeaf.Next)
		}
		for j, key := range aLeaf.Keys {
			entries = append(entries, Entry{Key: key, Value: aLeaf.Values[j]})
		}
	}
	assert.True(t, slices.IsSortedFunc(entries, func(a, b Entry) int {
		return int(a.Key) - int(b.Key)
	}), "leaf chain is not in ascending key order")

	return entries
}
