package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWraparound(t *testing.T) {
	b := New[int](144)
	for i := 1; i <= 150; i++ {
		b.Push(i)
	}

	require.Equal(t, 144, b.Filled())
	values := b.Values()
	require.Len(t, values, 144)
	// Остаются последние 144 значения, от самого старого к самому новому
	for i, v := range values {
		assert.Equal(t, i+7, v)
	}

	newest, ok := b.At(0)
	require.True(t, ok)
	assert.Equal(t, 150, newest)
	oldest, ok := b.At(143)
	require.True(t, ok)
	assert.Equal(t, 7, oldest)
	_, ok = b.At(144)
	assert.False(t, ok)
}

func TestBufferPartial(t *testing.T) {
	b := New[float64](4)
	_, ok := b.At(0)
	assert.False(t, ok, "пустой буфер")

	b.Push(1)
	b.Push(2)
	assert.Equal(t, 2, b.Filled())
	assert.Equal(t, []float64{1, 2}, b.Values())

	v, ok := b.At(1)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = b.At(-1)
	assert.False(t, ok)
}

func TestBufferEach(t *testing.T) {
	b := New[int](3)
	for i := 0; i < 5; i++ {
		b.Push(i)
	}
	var got []int
	b.Each(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{2, 3, 4}, got)
	assert.Equal(t, 3, b.Cap())
}
