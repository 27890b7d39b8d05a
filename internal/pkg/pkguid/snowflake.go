package pkguid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// maxNodeID is the largest node number representable in snowflake's 10 node bits.
const maxNodeID = 1<<10 - 1

// Snowflake generates numeric IDs using the Snowflake algorithm.
//
// Upload run IDs come from here: they sort by creation time, which keeps the
// run history and failure artifacts easy to correlate.
type Snowflake struct {
	node *snowflake.Node
}

func generateRandomNodeID() (int64, error) {
	var nodeID int64
	err := binary.Read(rand.Reader, binary.BigEndian, &nodeID)
	if err != nil {
		return 0, err
	}

	return nodeID & maxNodeID, nil
}

// NewSnowflake constructs a Snowflake generator for the given node.
//
// A negative nodeID picks a random node, which is fine for a single replica;
// multiple replicas should be configured with distinct node numbers.
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	if nodeID > maxNodeID {
		return nil, fmt.Errorf("snowflake node %d out of range 0..%d", nodeID, maxNodeID)
	}

	if nodeID < 0 {
		random, err := generateRandomNodeID()
		if err != nil {
			return nil, err
		}
		nodeID = random
	}

	snowflake.Epoch = 1764522000000 // Mon Dec 01 2025 00:00:00.000 WIB

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}

	return &Snowflake{node: node}, nil
}

// Generate returns a new unique numeric ID.
func (s *Snowflake) Generate() int64 {
	return s.node.Generate().Int64()
}
