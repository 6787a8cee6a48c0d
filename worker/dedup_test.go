package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetAdd(t *testing.T) {
	seen := newSeenSet(4)
	assert.True(t, seen.Add("r1"))
	assert.True(t, seen.Add("r2"))
	assert.False(t, seen.Add("r1"), "repeated id is not new")
	assert.Equal(t, 2, seen.Len())
}

func TestSeenSetEviction(t *testing.T) {
	seen := newSeenSet(3)
	seen.Add("r1")
	seen.Add("r2")
	seen.Add("r3")
	seen.Add("r4") // evicts r1
	assert.Equal(t, 3, seen.Len())
	assert.True(t, seen.Add("r1"), "evicted id is treated as new again")
	assert.False(t, seen.Add("r4"))
}

func TestSeenSetRefreshOnReAdd(t *testing.T) {
	seen := newSeenSet(3)
	seen.Add("r1")
	seen.Add("r2")
	seen.Add("r3")
	seen.Add("r1") // refresh, r2 is now the oldest
	seen.Add("r4") // evicts r2
	assert.False(t, seen.Add("r1"))
	assert.True(t, seen.Add("r2"))
}
