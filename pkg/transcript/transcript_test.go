package transcript

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsSingleSystemMessage(t *testing.T) {
	tr := New("be helpful")
	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, System("be helpful"), snap[0])
}

func TestAppendPreservesOrderAndRejectsSystem(t *testing.T) {
	tr := New("sys")
	require.True(t, tr.Append(User("hi")))
	require.True(t, tr.Append(Assistant("hello")))
	require.False(t, tr.Append(System("again")))
	require.False(t, tr.Append(Message{Role: "tool", Content: "x"}))

	require.Equal(t, []Message{System("sys"), User("hi"), Assistant("hello")}, tr.Snapshot())
	require.Equal(t, 1, tr.Turns())
}

func TestSnapshotIsIsolatedFromLaterAppends(t *testing.T) {
	tr := New("sys")
	tr.Append(User("one"))
	snap := tr.Snapshot()

	tr.Append(Assistant("two"))
	snap[0].Content = "mutated"

	require.Len(t, snap, 2)
	require.Equal(t, "sys", tr.Snapshot()[0].Content)
	require.Equal(t, 3, tr.Len())
}

func TestConcurrentSnapshotDuringAppend(t *testing.T) {
	tr := New("sys")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			tr.Append(User("u"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := tr.Snapshot()
			assert.Equal(t, RoleSystem, snap[0].Role)
		}
	}()
	wg.Wait()
	require.Equal(t, 201, tr.Len())
}

func TestNilTranscript(t *testing.T) {
	var tr *Transcript
	require.False(t, tr.Append(User("x")))
	require.Nil(t, tr.Snapshot())
	require.Zero(t, tr.Len())
}

func TestEstimateTokens(t *testing.T) {
	n := EstimateTokens([]Message{System("You are a shopping assistant."), User("find me headphones")})
	require.Greater(t, n, 8)
	require.Zero(t, EstimateTokens(nil))
}
