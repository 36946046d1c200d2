package handler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRunsInOrder(t *testing.T) {
	h := New("order")
	defer h.Close()
	assert.Equal(t, "order", h.Name())

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		h.Post(func() { got = append(got, i) })
	}
	h.Sync()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostFromManyGoroutines(t *testing.T) {
	h := New("many")
	defer h.Close()

	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Post(func() { count++ })
			}
		}()
	}
	wg.Wait()
	h.Sync()

	assert.Equal(t, 400, count)
}

func TestPostFromTaskIsNotInline(t *testing.T) {
	h := New("nested")
	defer h.Close()

	var got []string
	h.Post(func() {
		h.Post(func() { got = append(got, "inner") })
		got = append(got, "outer")
	})
	h.Sync()
	h.Sync()

	assert.Equal(t, []string{"outer", "inner"}, got)
}

func TestCloseDrainsQueue(t *testing.T) {
	h := New("drain")

	ran := 0
	for i := 0; i < 10; i++ {
		h.Post(func() { ran++ })
	}
	h.Close()
	assert.Equal(t, 10, ran)

	h.Post(func() { ran++ })
	h.Close()
	assert.Equal(t, 10, ran, "tasks posted after close must be dropped")
}

func TestPanicDoesNotStopHandler(t *testing.T) {
	h := New("panic")
	defer h.Close()

	ran := false
	h.Post(func() { panic("boom") })
	h.Post(func() { ran = true })
	h.Sync()

	assert.True(t, ran)
}
