package pathfind

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/taskgraph/internal/world"
)

func TestFind_Straight(t *testing.T) {
	t.Parallel()

	w := world.NewMemory(5, 5)
	path, err := Find(context.Background(), w, Cell{0, 0}, Cell{3, 0})
	require.NoError(t, err)
	require.Equal(t, []Cell{{0, 0}, {1, 0}, {2, 0}, {3, 0}}, path)

	path, err = Find(context.Background(), w, Cell{2, 2}, Cell{2, 2})
	require.NoError(t, err)
	require.Equal(t, []Cell{{2, 2}}, path)
}

func TestFind_AroundWall(t *testing.T) {
	t.Parallel()

	// . # .
	// . # .
	// . . .
	w := world.NewMemory(3, 3)
	w.Block([2]int{1, 0}, [2]int{1, 1})

	path, err := Find(context.Background(), w, Cell{0, 0}, Cell{2, 0})
	require.NoError(t, err)
	require.Len(t, path, 7, "shortest detour is 6 steps")
	require.Equal(t, Cell{0, 0}, path[0])
	require.Equal(t, Cell{2, 0}, path[len(path)-1])
	for i := 1; i < len(path); i++ {
		require.Equal(t, 1, manhattan(path[i-1], path[i]), "steps are 4-connected")
		require.True(t, w.Walkable(path[i].X, path[i].Y))
	}
}

func TestFind_Errors(t *testing.T) {
	t.Parallel()

	w := world.NewMemory(3, 3)
	w.Block([2]int{1, 0}, [2]int{1, 1}, [2]int{1, 2})

	_, err := Find(context.Background(), w, Cell{0, 0}, Cell{2, 2})
	require.ErrorIs(t, err, ErrNoPath)

	_, err = Find(context.Background(), w, Cell{0, 0}, Cell{1, 1})
	require.ErrorIs(t, err, ErrBlockedEndpoint)

	_, err = Find(context.Background(), nil, Cell{}, Cell{})
	require.Error(t, err)
}

func TestFind_UnboundedLimit(t *testing.T) {
	t.Parallel()

	// Goal walled in on an unbounded grid: the search must give up.
	w := world.NewMemory(0, 0)
	w.Block([2]int{9, 10}, [2]int{11, 10}, [2]int{10, 9}, [2]int{10, 11})

	_, err := FindWithOptions(context.Background(), w, Cell{0, 0}, Cell{10, 10}, Options{MaxExpansions: 500})
	require.ErrorIs(t, err, ErrNoPath)
}

func TestFind_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Find(ctx, world.NewMemory(100, 100), Cell{0, 0}, Cell{99, 99})
	require.ErrorIs(t, err, context.Canceled)
}
