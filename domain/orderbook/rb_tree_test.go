package orderbook

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRBTree_UpsertGetDelete(t *testing.T) {
	tree := NewRBTree()
	pl := tree.Upsert(100)
	require.NotNil(t, pl)
	assert.Same(t, pl, tree.Get(100))
	assert.Same(t, pl, tree.Upsert(100))

	tree.Upsert(200)
	assert.Equal(t, int64(100), tree.Min().Price)
	assert.Equal(t, int64(200), tree.Max().Price)
	assert.Equal(t, 2, tree.Len())

	assert.True(t, tree.Delete(100))
	assert.Nil(t, tree.Get(100))
	assert.False(t, tree.Delete(100))
	assert.Equal(t, 1, tree.Len())
}

func TestRBTree_Empty(t *testing.T) {
	tree := NewRBTree()
	assert.Nil(t, tree.Min())
	assert.Nil(t, tree.Max())
	assert.False(t, tree.Delete(123))

	visited := 0
	tree.Ascend(func(*PriceLevel) bool { visited++; return true })
	assert.Zero(t, visited)
}

// blackHeight returns -1 when a red-black property is broken.
func blackHeight(t *RBTree, n *rbNode) int {
	if n == t.nil {
		return 1
	}
	if n.color == red && (n.left.color == red || n.right.color == red) {
		return -1
	}
	l, r := blackHeight(t, n.left), blackHeight(t, n.right)
	if l < 0 || r < 0 || l != r {
		return -1
	}
	if n.color == black {
		return l + 1
	}
	return l
}

func TestRBTree_RandomOpsKeepOrderAndBalance(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tree := NewRBTree()
	live := map[int64]bool{}

	for i := 0; i < 5000; i++ {
		p := int64(rng.Intn(800))
		if rng.Intn(3) == 0 {
			assert.Equal(t, live[p], tree.Delete(p))
			delete(live, p)
		} else {
			tree.Upsert(p)
			live[p] = true
		}
	}

	want := make([]int64, 0, len(live))
	for p := range live {
		want = append(want, p)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	var asc []int64
	tree.Ascend(func(l *PriceLevel) bool { asc = append(asc, l.Price); return true })
	assert.Equal(t, want, asc)

	var desc []int64
	tree.Descend(func(l *PriceLevel) bool { desc = append(desc, l.Price); return true })
	require.Len(t, desc, len(want))
	for i := range desc {
		assert.Equal(t, want[len(want)-1-i], desc[i])
	}

	assert.Equal(t, len(live), tree.Len())
	assert.Equal(t, black, tree.root.color)
	assert.Positive(t, blackHeight(tree, tree.root))
}

func TestRBTree_WalkStops(t *testing.T) {
	tree := NewRBTree()
	for _, p := range []int64{5, 1, 9, 3, 7} {
		tree.Upsert(p)
	}
	var seen []int64
	tree.Ascend(func(l *PriceLevel) bool {
		seen = append(seen, l.Price)
		return len(seen) < 2
	})
	assert.Equal(t, []int64{1, 3}, seen)
}
