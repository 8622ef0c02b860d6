package zenflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNodeId(t *testing.T) {
	// given
	node, err := NewNode(4)
	require.NoError(t, err)

	// when
	key := node.Generate().Int64()

	// then
	assert.Equal(t, int64(4), GetNodeId(key))
}

func TestNewNodeRejectsOutOfRangeIds(t *testing.T) {
	_, err := NewNode(nodeMax + 1)
	assert.Error(t, err)
	_, err = NewNode(-1)
	assert.Error(t, err)
}

func TestRandomNodeIdInRange(t *testing.T) {
	for range 20 {
		id := RandomNodeId()
		assert.GreaterOrEqual(t, id, int64(0))
		assert.LessOrEqual(t, id, nodeMax)
	}
}
