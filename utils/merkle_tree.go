package utils

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/helix-labs/helix/crypto/hash"
)

// ComputeMerkleRoot calculates the Merkle root for a list of byte
// slices using BLAKE2b-256. A level with an odd number of nodes
// duplicates its last node.
func ComputeMerkleRoot(data [][]byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blake2b hasher: %w", err)
	}

	var level [][]byte
	for _, item := range data {
		if item == nil {
			return nil, errors.New("cannot compute merkle root with nil data item")
		}
		hasher.Reset()
		hasher.Write(item)
		level = append(level, hasher.Sum(nil))
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		var nextLevel [][]byte
		for i := 0; i < len(level); i += 2 {
			combined := append(level[i], level[i+1]...)
			hasher.Reset()
			hasher.Write(combined)
			nextLevel = append(nextLevel, hasher.Sum(nil))
		}
		level = nextLevel
	}

	if len(level) == 1 {
		return level[0], nil
	}
	return nil, errors.New("merkle tree construction failed unexpectedly")
}

// MerkleRootHash is ComputeMerkleRoot returning a typed hash. An empty
// input yields the zero hash.
func MerkleRootHash(data [][]byte) (hash.Hash, error) {
	root, err := ComputeMerkleRoot(data)
	if err != nil {
		return hash.Hash{}, err
	}
	if root == nil {
		return hash.Hash{}, nil
	}
	return hash.FromBytes(root)
}
