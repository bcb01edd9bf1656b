package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/meshsync/lib/comm"
	merror "github.com/phil-mansfield/meshsync/lib/error"
	"github.com/phil-mansfield/meshsync/lib/log/logtest"
)

// twoRankOwners is a pair of ranks with ten entities each. Rank 0 owns its
// first six and ghosts four of rank 1's, out of order. Rank 1 owns its first
// six and ghosts four of rank 0's.
func twoRankOwners(t *testing.T, rank int) *OwnershipTable {
	var ranks, idx []int
	switch rank {
	case 0:
		ranks = []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 1}
		idx = []int{0, 1, 2, 3, 4, 5, 3, 1, 0, 2}
	case 1:
		ranks = []int{1, 1, 1, 1, 1, 1, 0, 0, 0, 0}
		idx = []int{0, 1, 2, 3, 4, 5, 2, 3, 4, 5}
	}
	owners, err := NewOwnershipTable(rank, ranks, idx)
	require.NoError(t, err)
	return owners
}

func TestOwnershipTable(t *testing.T) {
	owners := twoRankOwners(t, 0)
	assert.Equal(t, 10, owners.Len())
	assert.Equal(t, 4, owners.Ghosts())
	assert.True(t, owners.Owns(5))
	assert.False(t, owners.Owns(6))
	assert.Equal(t, 1, owners.OwnerRank(7))
	assert.Equal(t, 1, owners.OwnerIndex(7))

	_, err := NewOwnershipTable(0, []int{0, 1}, []int{0})
	assert.Error(t, err)
	_, err = NewOwnershipTable(0, []int{-1}, []int{0})
	assert.Error(t, err)
	_, err = NewOwnershipTable(0, []int{0}, []int{-3})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	tests := []struct {
		rank, size, ents int
		send, recv       [][]int
		valid            bool
	}{
		{0, 1, 3, [][]int{{0, 1, 2}}, [][]int{{0, 1, 2}}, true},
		{1, 2, 3, [][]int{{2}, {0}}, [][]int{{1}, {0}}, true},
		{2, 2, 3, [][]int{{}, {}}, [][]int{{}, {}}, false},
		{0, 2, 3, [][]int{{}}, [][]int{{}, {}}, false},
		{0, 2, 3, [][]int{{}, {3}}, [][]int{{}, {}}, false},
		{0, 2, 3, [][]int{{}, {}}, [][]int{{}, {-1}}, false},
		{0, 2, 3, [][]int{{0}, {}}, [][]int{{}, {}}, false},
	}

	for i := range tests {
		tt := tests[i]
		_, err := New(tt.rank, tt.size, tt.ents, tt.send, tt.recv)
		if tt.valid && err != nil {
			t.Errorf("%d) Got unexpected error %v.", i, err)
		} else if !tt.valid && err == nil {
			t.Errorf("%d) Expected an error.", i)
		}
	}
}

func TestGatherScatter(t *testing.T) {
	p, err := New(0, 3, 4,
		[][]int{{0, 1}, {3, 0}, {}},
		[][]int{{0, 1}, {}, {2, 3}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, p.Neighbors())
	assert.Equal(t, 2, p.SendCount(1))
	assert.Equal(t, 0, p.RecvCount(1))

	buf := []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5}
	payload := Gather(p, buf, 2)
	assert.Equal(t, [][]float32{{0, 0.5, 1, 1.5}, {3, 3.5, 0, 0.5}, {}}, payload)

	out := make([]float32, len(buf))
	recv := [][]float32{payload[0], {}, {-2, -2.5, -3, -3.5}}
	Scatter(p, recv, 2, out)
	assert.Equal(t, []float32{0, 0.5, 1, 1.5, -2, -2.5, -3, -3.5}, out)
}

func TestScatterRejectsMalformedPayload(t *testing.T) {
	p, err := New(0, 2, 2, [][]int{{0}, {}}, [][]int{{0}, {1}})
	require.NoError(t, err)

	out := make([]int, 2)
	assert.PanicsWithError(t, "assertion failed: rank 0 received 2 values from rank 1, but the plan expects 1 entities of width 1", func() {
		Scatter(p, [][]int{{7}, {8, 9}}, 1, out)
	})

	defer func() {
		_, ok := recover().(*merror.AssertionError)
		assert.True(t, ok)
	}()
	Scatter(p, [][]int{{7}}, 1, out)
}

func TestBuild(t *testing.T) {
	w, err := comm.NewWorld(2, nil, logtest.New(t))
	require.NoError(t, err)

	plans := make([]*Plan, 2)
	err = w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		p, err := Build(ctx, c, twoRankOwners(t, c.Rank()))
		plans[c.Rank()] = p
		return err
	})
	require.NoError(t, err)

	self := []int{0, 1, 2, 3, 4, 5}
	assert.Equal(t, [][]int{self, {2, 3, 4, 5}}, plans[0].send)
	assert.Equal(t, [][]int{self, {6, 7, 8, 9}}, plans[0].recv)
	assert.Equal(t, [][]int{{3, 1, 0, 2}, self}, plans[1].send)
	assert.Equal(t, [][]int{{6, 7, 8, 9}, self}, plans[1].recv)

	// Message counts agree across every pair of ranks.
	for r := 0; r < 2; r++ {
		for s := 0; s < 2; s++ {
			assert.Equal(t, plans[r].SendCount(s), plans[s].RecvCount(r))
		}
	}
}

func TestBuildRejectsInconsistentOwners(t *testing.T) {
	w, err := comm.NewWorld(2, nil, logtest.New(t))
	require.NoError(t, err)

	err = w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		owners := twoRankOwners(t, c.Rank())
		if c.Rank() == 0 {
			// Entity 9 of rank 1 is a ghost, not something rank 1 owns.
			owners, _ = NewOwnershipTable(0,
				[]int{0, 0, 0, 0, 0, 0, 1, 1, 1, 1},
				[]int{0, 1, 2, 3, 4, 5, 3, 1, 0, 9})
		}
		_, err := Build(ctx, c, owners)
		return err
	})
	assert.Error(t, err)

	w, err = comm.NewWorld(1, nil, nil)
	require.NoError(t, err)
	owners, err := NewOwnershipTable(0, []int{1}, []int{0})
	require.NoError(t, err)
	_, err = Build(context.Background(), w.Comm(0), owners)
	assert.Error(t, err)
}
