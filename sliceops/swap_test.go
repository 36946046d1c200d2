package sliceops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwapBuf(t *testing.T) {
	in := []byte{1, 2, 3, 4, 5}
	assert.Equal(t, []byte{5, 4, 3, 2, 1}, SwapBuf(in))
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, in, "input untouched")
	assert.Equal(t, []byte{}, SwapBuf(nil))
	assert.Equal(t, []byte{2, 1}, SwapBuf([]byte{1, 2}))
}

func TestConcat(t *testing.T) {
	a := make([]byte, 2, 8)
	a[0], a[1] = 1, 2

	out := Concat(a, []byte{3}, nil, []byte{4, 5})
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, out)

	out[0] = 9
	assert.Equal(t, byte(1), a[0])
	assert.Equal(t, []byte{1, 2}, Concat(a))
}
