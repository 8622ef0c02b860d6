package zenflake

import (
	"fmt"
	"hash/fnv"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// Keys are 63 bit snowflake ids: 41 bits of time, NodeBits identifying the engine and StepBits of sequence.
// Every engine owns its node so keys generated by two engines in one process never collide.

var (
	// NodeBits holds the number of bits to use for Node
	// Remember, you have a total 22 bits to share between Node/Step
	NodeBits uint8 = 10

	// StepBits holds the number of bits to use for Step
	// Remember, you have a total 22 bits to share between Node/Step
	StepBits uint8 = 12

	// internal values of bwmarrin/snowflake
	nodeMax   int64 = -1 ^ (-1 << NodeBits)
	nodeMask        = nodeMax << StepBits
	nodeShift       = StepBits
)

func GetNodeMask() int64 {
	return nodeMask
}

// GetNodeId returns the id of the node that generated the key.
func GetNodeId(key int64) int64 {
	return (key & nodeMask) >> int64(nodeShift)
}

// NewNode creates a key generator for given node id.
func NewNode(nodeId int64) (*snowflake.Node, error) {
	if nodeId < 0 || nodeId > nodeMax {
		return nil, fmt.Errorf("snowflake node id %d out of range 0..%d", nodeId, nodeMax)
	}
	snowflake.NodeBits = NodeBits
	snowflake.StepBits = StepBits
	return snowflake.NewNode(nodeId)
}

// RandomNodeId derives a node id from a random uuid, used when no id is configured.
func RandomNodeId() int64 {
	id := uuid.New()
	hash := fnv.New32a()
	_, _ = hash.Write(id[:])
	return int64(hash.Sum32()) & nodeMax
}
