package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(values ...int) <-chan int {
	ch := make(chan int, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func TestPaceSpacing(t *testing.T) {
	const interval = 50 * time.Millisecond

	start := time.Now()
	var got []int
	var stamps []time.Duration
	for v := range Pace(context.Background(), feed(1, 2, 3, 4), interval) {
		got = append(got, v)
		stamps = append(stamps, time.Since(start))
	}

	assert.Equal(t, []int{1, 2, 3, 4}, got)
	assert.Less(t, stamps[0], interval, "first value is not delayed")
	for i := 1; i < len(stamps); i++ {
		// Small slack for timer granularity.
		assert.GreaterOrEqual(t, stamps[i]-stamps[i-1], interval-5*time.Millisecond, "gap %d", i)
	}
}

func TestPacePassthrough(t *testing.T) {
	in := feed(1, 2)
	assert.Equal(t, in, Pace(context.Background(), in, 0))
	assert.Equal(t, in, Pace(context.Background(), in, -time.Second))
}

func TestPaceCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int)
	out := Pace(ctx, in, time.Hour)

	in <- 1
	require.Equal(t, 1, <-out)

	cancel()
	select {
	case _, ok := <-out:
		assert.False(t, ok, "value delivered after cancel")
	case <-time.After(time.Second):
		t.Fatal("output not closed after cancel")
	}
}

func TestPaceSlowProducer(t *testing.T) {
	// A producer slower than the interval is not delayed further.
	in := make(chan int)
	out := Pace(context.Background(), in, 10*time.Millisecond)

	go func() {
		defer close(in)
		for i := 0; i < 3; i++ {
			time.Sleep(30 * time.Millisecond)
			in <- i
		}
	}()

	start := time.Now()
	var got []int
	for v := range out {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
