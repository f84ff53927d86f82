package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmap-stream-go/internal/codec"
)

func img(name string) *codec.Image {
	return &codec.Image{Format: "png", Width: 1, Height: 1, Encoded: []byte(name)}
}

func TestDepositSequence(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("deposits=%d", n), func(t *testing.T) {
			s := New(FlowMap)
			images := make([]*codec.Image, n)
			for i := range images {
				images[i] = img(fmt.Sprintf("p%d", i+1))
				seq, err := s.Deposit(FlowMap, images[i])
				require.NoError(t, err)
				assert.Equal(t, uint64(i+1), seq)
			}

			snap, err := s.Snapshot(FlowMap)
			require.NoError(t, err)
			if n == 1 {
				assert.True(t, snap.IsFirstImage)
				assert.Same(t, images[0], snap.Current)
				assert.Nil(t, snap.Next)
				return
			}
			assert.False(t, snap.IsFirstImage)
			assert.Same(t, images[n-2], snap.Current)
			assert.Same(t, images[n-1], snap.Next)
		})
	}
}

func TestDepositResetsBlend(t *testing.T) {
	s := New(FlowMap)
	_, _ = s.Deposit(FlowMap, img("a"))
	_, _ = s.Deposit(FlowMap, img("b"))

	progress, err := s.AdvanceBlend(FlowMap, 500*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, progress, 1e-9)

	_, _ = s.Deposit(FlowMap, img("c"))
	snap, _ := s.Snapshot(FlowMap)
	assert.Zero(t, snap.BlendProgress)
}

func TestAdvanceBlendClampIsIdempotent(t *testing.T) {
	s := New(FlowMap)
	_, _ = s.Deposit(FlowMap, img("a"))
	_, _ = s.Deposit(FlowMap, img("b"))

	progress, err := s.AdvanceBlend(FlowMap, 3*time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, progress)

	for i := 0; i < 3; i++ {
		progress, err = s.AdvanceBlend(FlowMap, 16*time.Millisecond, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 1.0, progress)
	}
}

func TestAdvanceBlendWaitsForSecondImage(t *testing.T) {
	s := New(FlowMap)
	_, _ = s.Deposit(FlowMap, img("a"))

	progress, err := s.AdvanceBlend(FlowMap, time.Second, time.Second)
	require.NoError(t, err)
	assert.Zero(t, progress)
}

func TestAdvanceBlendZeroInterval(t *testing.T) {
	s := New(Frame)
	_, _ = s.Deposit(Frame, img("a"))
	_, _ = s.Deposit(Frame, img("b"))

	progress, err := s.AdvanceBlend(Frame, time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, progress)
}

func TestUntrackedClass(t *testing.T) {
	s := New(FlowMap, Frame)
	assert.False(t, s.Tracks(TransformedFrame))

	_, err := s.Deposit(TransformedFrame, img("x"))
	assert.ErrorIs(t, err, ErrUntrackedClass)
	_, err = s.Snapshot(TransformedFrame)
	assert.ErrorIs(t, err, ErrUntrackedClass)
	_, err = s.AdvanceBlend(TransformedFrame, time.Second, time.Second)
	assert.ErrorIs(t, err, ErrUntrackedClass)
}

func TestClassesAreIndependent(t *testing.T) {
	s := New()
	p1, p2, p3 := img("p1"), img("p2"), img("p3")
	_, _ = s.Deposit(FlowMap, p1)
	_, _ = s.Deposit(Frame, p2)
	_, _ = s.Deposit(FlowMap, p3)

	flow, _ := s.Snapshot(FlowMap)
	assert.Same(t, p1, flow.Current)
	assert.Same(t, p3, flow.Next)

	frame, _ := s.Snapshot(Frame)
	assert.Same(t, p2, frame.Current)
	assert.True(t, frame.IsFirstImage)

	assert.Same(t, p3, s.Latest(FlowMap))
	assert.Same(t, p2, s.Latest(Frame))
	assert.Nil(t, s.Latest(TransformedFrame))
}

func TestResetAndStats(t *testing.T) {
	s := New(FlowMap)
	_, _ = s.Deposit(FlowMap, &codec.Image{Width: 8, Height: 4})

	stats := s.Stats()
	require.Contains(t, stats, "flowmap")
	assert.Equal(t, uint64(1), stats["flowmap"].Deposits)
	assert.Equal(t, 8, stats["flowmap"].Width)

	require.NoError(t, s.Reset(FlowMap))
	snap, _ := s.Snapshot(FlowMap)
	assert.Nil(t, snap.Current)
	assert.True(t, snap.IsFirstImage)
	assert.Zero(t, snap.Sequence)
	assert.ErrorIs(t, s.Reset(Frame), ErrUntrackedClass)

	first := &codec.Image{Width: 2, Height: 2}
	_, err := s.Deposit(FlowMap, first)
	require.NoError(t, err)
	snap, _ = s.Snapshot(FlowMap)
	assert.Same(t, first, snap.Current)
	assert.True(t, snap.IsFirstImage)
}

func TestResetRacesWithReaders(t *testing.T) {
	s := New(FlowMap)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			assert.NoError(t, s.Reset(FlowMap))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			assert.True(t, s.Tracks(FlowMap))
			assert.False(t, s.Tracks(Frame))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			_, _ = s.Deposit(FlowMap, img(fmt.Sprint(i)))
			_ = s.Stats()
		}
	}()
	wg.Wait()
}

func TestConcurrentDepositAndSnapshot(t *testing.T) {
	s := New(FlowMap)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_, _ = s.Deposit(FlowMap, img(fmt.Sprint(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			snap, err := s.Snapshot(FlowMap)
			assert.NoError(t, err)
			if !snap.IsFirstImage {
				assert.NotNil(t, snap.Current)
				assert.NotNil(t, snap.Next)
				assert.NotSame(t, snap.Current, snap.Next)
			}
			_, _ = s.AdvanceBlend(FlowMap, time.Millisecond, time.Second)
		}
	}()
	wg.Wait()
}

func TestParseClass(t *testing.T) {
	for _, class := range AllClasses() {
		parsed, err := ParseClass(class.String())
		require.NoError(t, err)
		assert.Equal(t, class, parsed)
	}
	_, err := ParseClass("depth")
	assert.Error(t, err)
}
