package cursor

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLength(n int) func() int {
	return func() int { return n }
}

func TestSeekClamps(t *testing.T) {
	c := New(fixedLength(5))
	assert.Equal(t, -1, c.Pos())

	assert.Equal(t, 3, c.Seek(3))
	assert.Equal(t, 4, c.Seek(100))
	assert.Equal(t, -1, c.Seek(-50))
}

func TestStepBoundaries(t *testing.T) {
	c := New(fixedLength(2))

	assert.Equal(t, -1, c.StepBackward(), "step back at the start is a no-op")
	assert.Equal(t, 0, c.StepForward())
	assert.Equal(t, 1, c.StepForward())
	assert.Equal(t, 1, c.StepForward(), "step forward at the end is a no-op")
	assert.Equal(t, 0, c.StepBackward())
}

func TestCursorTracksGrowingLog(t *testing.T) {
	n := 1
	c := New(func() int { return n })

	assert.Equal(t, 0, c.Seek(10))
	n = 5
	assert.Equal(t, 4, c.Seek(10))
}

func TestEmptyLog(t *testing.T) {
	c := New(fixedLength(0))
	assert.Equal(t, -1, c.Seek(0))
	assert.Equal(t, -1, c.StepForward())
}

func TestOnMoveFires(t *testing.T) {
	var moves []int
	c := New(fixedLength(3), WithOnMove(func(pos int) { moves = append(moves, pos) }))

	c.Seek(1)
	c.StepForward()
	c.StepBackward()
	assert.Equal(t, []int{1, 2, 1}, moves)
}

func TestOnMoveSilentOnBoundaryNoOps(t *testing.T) {
	var moves []int
	c := New(fixedLength(2), WithOnMove(func(pos int) { moves = append(moves, pos) }))

	c.StepBackward() // already at the start
	c.Seek(1)
	c.StepForward() // already at the end
	c.StepForward()
	c.Seek(1)  // same position
	c.Seek(50) // clamps to the same position

	assert.Equal(t, []int{1}, moves)
}

func TestPlaybackAdvancesAndStops(t *testing.T) {
	mock := clock.NewMock()
	moves := make(chan int, 16)
	c := New(fixedLength(3),
		WithClock(mock),
		WithStepPeriod(100*time.Millisecond),
		WithOnMove(func(pos int) { moves <- pos }))

	c.Play(1)
	require.True(t, c.Playing())

	for want := 0; want < 3; want++ {
		mock.Add(100 * time.Millisecond)
		select {
		case pos := <-moves:
			assert.Equal(t, want, pos)
		case <-time.After(2 * time.Second):
			t.Fatalf("no move after tick %d", want)
		}
	}

	// Reaching the final index stops playback on its own.
	assert.False(t, c.Playing())
	assert.Equal(t, 2, c.Pos())
}

func TestPlaybackAtEndEmitsNothing(t *testing.T) {
	mock := clock.NewMock()
	moves := make(chan int, 16)
	c := New(fixedLength(2),
		WithClock(mock),
		WithStepPeriod(100*time.Millisecond),
		WithOnMove(func(pos int) { moves <- pos }))

	c.Seek(1)
	require.Equal(t, 1, <-moves)

	// Playback from the final index stops without re-emitting it.
	c.Play(1)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return !c.Playing() },
		2*time.Second, 10*time.Millisecond)
	select {
	case pos := <-moves:
		t.Fatalf("unexpected move to %d at the end", pos)
	default:
	}
}

func TestPlaybackSpeedScalesPeriod(t *testing.T) {
	mock := clock.NewMock()
	moves := make(chan int, 16)
	c := New(fixedLength(10),
		WithClock(mock),
		WithStepPeriod(100*time.Millisecond),
		WithOnMove(func(pos int) { moves <- pos }))

	// Speed 2 halves the period.
	c.Play(2)
	mock.Add(50 * time.Millisecond)
	select {
	case pos := <-moves:
		assert.Equal(t, 0, pos)
	case <-time.After(2 * time.Second):
		t.Fatal("no move at the scaled period")
	}
	c.Pause()
	assert.False(t, c.Playing())
}

func TestPauseKeepsPosition(t *testing.T) {
	mock := clock.NewMock()
	moves := make(chan int, 16)
	c := New(fixedLength(10),
		WithClock(mock),
		WithStepPeriod(100*time.Millisecond),
		WithOnMove(func(pos int) { moves <- pos }))

	c.Play(1)
	mock.Add(100 * time.Millisecond)
	select {
	case <-moves:
	case <-time.After(2 * time.Second):
		t.Fatal("no move before pause")
	}
	c.Pause()
	pos := c.Pos()

	// Let the playback goroutine observe the stop before time moves again.
	time.Sleep(50 * time.Millisecond)

	// Time passing after pause moves nothing.
	mock.Add(time.Second)
	select {
	case p := <-moves:
		t.Fatalf("unexpected move to %d after pause", p)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, pos, c.Pos())
}

func TestPauseWhenNotPlaying(t *testing.T) {
	c := New(fixedLength(3))
	c.Pause() // must not panic
	assert.False(t, c.Playing())
}

func TestNonPositiveSpeedTreatedAsOne(t *testing.T) {
	mock := clock.NewMock()
	moves := make(chan int, 16)
	c := New(fixedLength(10),
		WithClock(mock),
		WithStepPeriod(100*time.Millisecond),
		WithOnMove(func(pos int) { moves <- pos }))

	c.Play(0)
	mock.Add(100 * time.Millisecond)
	select {
	case pos := <-moves:
		assert.Equal(t, 0, pos)
	case <-time.After(2 * time.Second):
		t.Fatal("no move at base period")
	}
	c.Pause()
}
