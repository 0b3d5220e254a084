package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

func TestRelMapDepthZeroTouchesSeedOnly(t *testing.T) {
	s := chain(t)
	got, err := RelMap(context.Background(), []string{"b"}, 0, 30, StoreNeighbors(s))
	require.NoError(t, err)
	assert.Equal(t, map[string][]apptype.Triplet{
		"b": {trip("a", "next", "b"), trip("b", "next", "c")},
	}, got)
}

func TestRelMapExpandsBothDirections(t *testing.T) {
	s := chain(t)
	got, err := RelMap(context.Background(), []string{"b"}, 1, 30, StoreNeighbors(s))
	require.NoError(t, err)
	assert.Equal(t, []apptype.Triplet{
		trip("a", "next", "b"),
		trip("b", "next", "c"),
		trip("c", "next", "d"),
		trip("x", "points", "a"),
	}, got["b"])
}

func TestRelMapLimitIsLevelMajor(t *testing.T) {
	s := chain(t)
	// level 0: a has {a-b, x-a}, c has {b-c, c-d}; level 1 would add more.
	got, err := RelMap(context.Background(), []string{"c", "a"}, 2, 3, StoreNeighbors(s))
	require.NoError(t, err)

	total := 0
	for _, ts := range got {
		total += len(ts)
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, []apptype.Triplet{trip("b", "next", "c"), trip("c", "next", "d")}, got["c"])
	assert.Equal(t, []apptype.Triplet{trip("a", "next", "b")}, got["a"])
}

func TestRelMapEdgeCases(t *testing.T) {
	s := chain(t)
	ctx := context.Background()

	got, err := RelMap(ctx, []string{"a"}, 2, 0, StoreNeighbors(s))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	got, err = RelMap(ctx, []string{"a"}, 2, -1, StoreNeighbors(s))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = RelMap(ctx, []string{"a"}, -5, 10, StoreNeighbors(s))
	require.NoError(t, err)
	assert.Len(t, got["a"], 2, "negative depth behaves as zero")

	got, err = RelMap(ctx, []string{"unknown", "d"}, 0, 10, StoreNeighbors(s))
	require.NoError(t, err)
	_, ok := got["unknown"]
	assert.False(t, ok, "seeds without triplets are omitted")
	assert.Equal(t, []apptype.Triplet{trip("c", "next", "d")}, got["d"])

	got, err = RelMap(ctx, []string{"d", "d"}, 0, 10, StoreNeighbors(s))
	require.NoError(t, err)
	assert.Len(t, got["d"], 1)
}

func TestRelMapSkipsDangling(t *testing.T) {
	s := chain(t)
	s.UpsertRelation(rel("d", "next", "ghost"))
	got, err := RelMap(context.Background(), []string{"d"}, 3, 30, StoreNeighbors(s))
	require.NoError(t, err)
	assert.NotContains(t, got["d"], trip("d", "next", "ghost"))
}

func TestRelMapNeighborErrorPropagates(t *testing.T) {
	boom := errors.New("backend down")
	_, err := RelMap(context.Background(), []string{"a"}, 1, 5, func(context.Context, []string) (map[string][]Edge, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRelMapBatchesFrontier(t *testing.T) {
	s := chain(t)
	var calls [][]string
	neighbors := func(ctx context.Context, frontier []string) (map[string][]Edge, error) {
		calls = append(calls, append([]string(nil), frontier...))
		return StoreNeighbors(s)(ctx, frontier)
	}
	_, err := RelMap(context.Background(), []string{"a", "c"}, 1, 30, neighbors)
	require.NoError(t, err)
	require.Len(t, calls, 2, "one neighbour fetch per level")
	assert.Equal(t, []string{"a", "c"}, calls[0])
}
