package feel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnaryTestComparesVariables(t *testing.T) {
	runtime := NewFeelRuntime()

	ok, err := runtime.UnaryTest(`x = "First"`, map[string]any{"x": "First"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = runtime.UnaryTest(`x = "First"`, map[string]any{"x": "Second"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnaryTestWithNumbers(t *testing.T) {
	runtime := NewFeelRuntime()

	ok, err := runtime.UnaryTest(`amount > 10`, map[string]any{"amount": int64(20)})

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnaryTestRejectsNonBooleanResult(t *testing.T) {
	runtime := NewFeelRuntime()

	_, err := runtime.UnaryTest(`"text"`, nil)

	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(3), Normalize(3))
	assert.Equal(t, int64(3), Normalize(int32(3)))
	assert.Equal(t, 1.5, Normalize(float32(1.5)))
	assert.Equal(t, "a", Normalize("a"))
	assert.Equal(t, []any{int64(1), int64(2)}, Normalize([]int{1, 2}))
	assert.Equal(t, []any{int64(1), "b"}, Normalize([]any{1, "b"}))
	assert.Equal(t, map[string]any{"n": int64(2)}, Normalize(map[string]any{"n": 2}))
}

type decimal struct{ text string }

func (d decimal) String() string { return d.text }

func TestNormalizeParsesNumericStringers(t *testing.T) {
	assert.Equal(t, int64(42), Normalize(decimal{"42"}))
	assert.Equal(t, 4.25, Normalize(decimal{"4.25"}))
	assert.Equal(t, decimal{"abc"}, Normalize(decimal{"abc"}))
}
