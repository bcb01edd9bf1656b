package plan

/* This file contains OwnershipTable. */

import (
	"fmt"
)

// OwnershipTable records, for every local entity on one rank, which rank owns
// it and the entity's index on that owner. It is read-only once created.
type OwnershipTable struct {
	rank    int
	ranks   []int
	indices []int
}

// NewOwnershipTable creates the table for the given rank from two parallel
// arrays. The arrays are copied.
func NewOwnershipTable(rank int, ownerRanks, ownerIndices []int) (*OwnershipTable, error) {
	if len(ownerRanks) != len(ownerIndices) {
		return nil, fmt.Errorf("%d owner ranks were given, but %d owner indices", len(ownerRanks), len(ownerIndices))
	}
	for i := range ownerRanks {
		if ownerRanks[i] < 0 {
			return nil, fmt.Errorf("entity %d has owner rank %d", i, ownerRanks[i])
		}
		if ownerIndices[i] < 0 {
			return nil, fmt.Errorf("entity %d has owner index %d", i, ownerIndices[i])
		}
	}

	return &OwnershipTable{
		rank:    rank,
		ranks:   append([]int(nil), ownerRanks...),
		indices: append([]int(nil), ownerIndices...),
	}, nil
}

// Rank returns the rank whose entities the table describes.
func (t *OwnershipTable) Rank() int { return t.rank }

// Len returns the number of local entities.
func (t *OwnershipTable) Len() int { return len(t.ranks) }

// OwnerRank returns the rank which owns entity i.
func (t *OwnershipTable) OwnerRank(i int) int { return t.ranks[i] }

// OwnerIndex returns the index of entity i on its owner.
func (t *OwnershipTable) OwnerIndex(i int) int { return t.indices[i] }

// Owns returns true if entity i is owned by the table's rank.
func (t *OwnershipTable) Owns(i int) bool { return t.ranks[i] == t.rank }

// Ghosts returns the number of local entities owned by other ranks.
func (t *OwnershipTable) Ghosts() int {
	n := 0
	for i := range t.ranks {
		if !t.Owns(i) {
			n++
		}
	}
	return n
}

// OwnerRanks returns a copy of every entity's owner rank.
func (t *OwnershipTable) OwnerRanks() []int {
	return append([]int(nil), t.ranks...)
}
