package node

import (
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/minikv/internal/pkg/pager"
)

var gen = newDataGen(uint64(time.Now().Unix()))

type dataGen struct {
	*gofakeit.Faker
}

func newDataGen(seed uint64) *dataGen {
	return &dataGen{Faker: gofakeit.New(seed)}
}

func (g *dataGen) sortedKeys(number int) []int32 {
	seen := make(map[int32]struct{}, number)
	keys := make([]int32, 0, number)
	for len(keys) < number {
		key := g.Int32()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (g *dataGen) Leaf(numKeys int) *Leaf {
	aLeaf := &Leaf{
		ID:     pager.BlockID(g.IntRange(3, 1000)),
		Keys:   g.sortedKeys(numKeys),
		Values: make([]string, 0, numKeys),
		Next:   pager.BlockID(g.IntRange(3, 1000)),
	}
	for range numKeys {
		aLeaf.Values = append(aLeaf.Values, g.Email())
	}
	return aLeaf
}

func (g *dataGen) Internal(numKeys int) *Internal {
	anInternal := &Internal{
		ID:       pager.BlockID(g.IntRange(3, 1000)),
		Keys:     g.sortedKeys(numKeys),
		Children: make([]pager.BlockID, 0, numKeys+1),
	}
	for range numKeys + 1 {
		anInternal.Children = append(anInternal.Children, pager.BlockID(g.IntRange(3, 1000)))
	}
	return anInternal
}

func TestNode_RoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("leaf nodes", func(t *testing.T) {
		for range 50 {
			aLeaf := gen.Leaf(gen.IntRange(1, 20))

			aBlock, err := Encode(aLeaf)
			require.NoError(t, err)
			assert.Equal(t, pager.BlockLeaf, aBlock.Type)
			assert.Equal(t, aLeaf.ID, aBlock.ID)
			assert.Len(t, aBlock.Payload, int(aLeaf.Size()))

			decoded, err := Decode(aBlock)
			require.NoError(t, err)
			assert.Equal(t, aLeaf, decoded)
		}
	})

	t.Run("internal nodes", func(t *testing.T) {
		for range 50 {
			anInternal := gen.Internal(gen.IntRange(1, 20))

			aBlock, err := Encode(anInternal)
			require.NoError(t, err)
			assert.Equal(t, pager.BlockInternal, aBlock.Type)
			assert.Len(t, aBlock.Payload, int(anInternal.Size()))

			decoded, err := Decode(aBlock)
			require.NoError(t, err)
			assert.Equal(t, anInternal, decoded)
		}
	})

	t.Run("empty last leaf", func(t *testing.T) {
		aLeaf := &Leaf{ID: 3, Keys: []int32{}, Values: []string{}, Next: pager.NoBlock}

		aBlock, err := Encode(aLeaf)
		require.NoError(t, err)
		assert.Len(t, aBlock.Payload, 12)
		// next leaf sentinel is -1
		assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, aBlock.Payload[8:])

		decoded, err := Decode(aBlock)
		require.NoError(t, err)
		assert.Equal(t, aLeaf, decoded)
	})

	t.Run("negative keys and empty values", func(t *testing.T) {
		aLeaf := &Leaf{
			ID:     4,
			Keys:   []int32{math.MinInt32, -1, 0, math.MaxInt32},
			Values: []string{"", "a", strings.Repeat("x", 200), "ünïcode"},
			Next:   pager.NoBlock,
		}

		aBlock, err := Encode(aLeaf)
		require.NoError(t, err)

		decoded, err := Decode(aBlock)
		require.NoError(t, err)
		assert.Equal(t, aLeaf, decoded)
	})
}

func TestLeaf_Marshal_Layout(t *testing.T) {
	t.Parallel()

	aLeaf := &Leaf{ID: 3, Keys: []int32{1, 2}, Values: []string{"A", "BC"}, Next: 9}

	data, err := aLeaf.Marshal(nil)
	require.NoError(t, err)

	expected := []byte{
		2, 0, 0, 0, // key count
		1, 0, 0, 0,
		2, 0, 0, 0,
		2, 0, 0, 0, // value count
		1, 'A',
		2, 'B', 'C',
		9, 0, 0, 0, // next leaf
	}
	assert.Equal(t, expected, data)
}

func TestInternal_Marshal_Layout(t *testing.T) {
	t.Parallel()

	anInternal := &Internal{ID: 3, Keys: []int32{-1}, Children: []pager.BlockID{4, 5}}

	data, err := anInternal.Marshal(nil)
	require.NoError(t, err)

	expected := []byte{
		1, 0, 0, 0, // key count
		0xFF, 0xFF, 0xFF, 0xFF,
		2, 0, 0, 0, // child count
		4, 0, 0, 0,
		5, 0, 0, 0,
	}
	assert.Equal(t, expected, data)
}

func TestEncode_Oversized(t *testing.T) {
	t.Parallel()

	aLeaf := &Leaf{
		ID:     3,
		Keys:   []int32{1},
		Values: []string{strings.Repeat("v", pager.MaxPayloadSize)},
		Next:   pager.NoBlock,
	}

	_, err := Encode(aLeaf)
	assert.ErrorIs(t, err, pager.ErrOversizedPayload)
}

func TestDecode_Corrupt(t *testing.T) {
	t.Parallel()

	validLeaf, err := Encode(&Leaf{ID: 3, Keys: []int32{1, 2}, Values: []string{"a", "b"}, Next: pager.NoBlock})
	require.NoError(t, err)
	validInternal, err := Encode(&Internal{ID: 4, Keys: []int32{10}, Children: []pager.BlockID{5, 6}})
	require.NoError(t, err)

	testCases := []struct {
		Name  string
		Block pager.Block
	}{
		{
			Name:  "empty payload",
			Block: pager.Block{ID: 3, Type: pager.BlockLeaf},
		},
		{
			Name:  "meta block",
			Block: pager.Block{ID: 3, Type: pager.BlockMeta, Payload: validLeaf.Payload},
		},
		{
			Name:  "leaf truncated",
			Block: pager.Block{ID: 3, Type: pager.BlockLeaf, Payload: validLeaf.Payload[:len(validLeaf.Payload)-2]},
		},
		{
			Name:  "leaf with trailing bytes",
			Block: pager.Block{ID: 3, Type: pager.BlockLeaf, Payload: append(slices.Clone(validLeaf.Payload), 0)},
		},
		{
			Name:  "leaf value count mismatch",
			Block: pager.Block{ID: 3, Type: pager.BlockLeaf, Payload: []byte{1, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}},
		},
		{
			Name:  "keys out of order",
			Block: pager.Block{ID: 4, Type: pager.BlockInternal, Payload: []byte{2, 0, 0, 0, 5, 0, 0, 0, 1, 0, 0, 0, 3, 0, 0, 0, 5, 0, 0, 0, 6, 0, 0, 0, 7, 0, 0, 0}},
		},
		{
			Name:  "key count exceeds payload",
			Block: pager.Block{ID: 4, Type: pager.BlockInternal, Payload: []byte{0xFF, 0, 0, 0}},
		},
		{
			Name:  "internal child count mismatch",
			Block: pager.Block{ID: 4, Type: pager.BlockInternal, Payload: []byte{1, 0, 0, 0, 10, 0, 0, 0, 1, 0, 0, 0, 5, 0, 0, 0}},
		},
		{
			Name:  "internal read as leaf",
			Block: pager.Block{ID: 4, Type: pager.BlockLeaf, Payload: validInternal.Payload},
		},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			_, err := Decode(aTestCase.Block)
			assert.ErrorIs(t, err, pager.ErrCorruptBlock)
		})
	}
}

func TestInternal_ChildIndex(t *testing.T) {
	t.Parallel()

	anInternal := &Internal{Keys: []int32{10, 20, 30}, Children: []pager.BlockID{3, 4, 5, 6}}

	assert.Equal(t, 0, anInternal.ChildIndex(-5))
	assert.Equal(t, 0, anInternal.ChildIndex(9))
	assert.Equal(t, 1, anInternal.ChildIndex(10))
	assert.Equal(t, 1, anInternal.ChildIndex(19))
	assert.Equal(t, 2, anInternal.ChildIndex(20))
	assert.Equal(t, 3, anInternal.ChildIndex(30))
	assert.Equal(t, 3, anInternal.ChildIndex(math.MaxInt32))

	empty := &Internal{Children: []pager.BlockID{7}}
	assert.Equal(t, 0, empty.ChildIndex(1))
}
