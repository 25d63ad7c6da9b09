package chain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
	"github.com/helix-labs/helix/utils"
)

// NewBlock builds an unsigned candidate block from per-shard execution
// results. The transaction root covers the digests in block order.
func NewBlock(height int64, prevHash hash.Hash, timestamp int64, proposer string,
	roots []types.ShardRoot, txs []*types.Transaction, intents []types.CreditIntent) (*types.Block, error) {

	block := &types.Block{
		Height:       height,
		PrevHash:     prevHash,
		Timestamp:    timestamp,
		Proposer:     proposer,
		ShardRoots:   roots,
		Transactions: txs,
		Intents:      intents,
	}

	txRoot, err := ComputeTxRoot(block)
	if err != nil {
		return nil, fmt.Errorf("failed to compute transaction root: %w", err)
	}
	block.TxRoot = txRoot

	if err := ComputeBlockHash(block); err != nil {
		return nil, err
	}
	return block, nil
}

// ComputeTxRoot computes the merkle root over the block's transaction
// digests in block order.
func ComputeTxRoot(b *types.Block) (hash.Hash, error) {
	leaves := make([][]byte, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		leaves = append(leaves, tx.ID.Bytes())
	}
	return utils.MerkleRootHash(leaves)
}

// SerializeForSigning returns the block bytes covered by the proposer
// signature and the block hash: everything except Hash, Signature and
// Commit.
func SerializeForSigning(b *types.Block) ([]byte, error) {
	blockCopy := *b
	blockCopy.Hash = hash.Hash{}
	blockCopy.Signature = nil
	blockCopy.Commit = nil

	blockBytes, err := blockCopy.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal block for signing: %w", err)
	}
	return blockBytes, nil
}

// ComputeBlockHash fills in the block hash from the signing bytes.
func ComputeBlockHash(b *types.Block) error {
	blockBytes, err := SerializeForSigning(b)
	if err != nil {
		return err
	}
	b.Hash = hash.NewHash(blockBytes)
	return nil
}

// SignBlock attaches the proposer's signature over the signing bytes.
func SignBlock(b *types.Block, priv crypto.PrivateKey) error {
	payload, err := SerializeForSigning(b)
	if err != nil {
		return err
	}
	sig := priv.Sign(payload)
	if sig == nil {
		return errors.New("failed to sign block")
	}
	b.Signature = sig.Bytes()
	return nil
}

// VerifyBlockSignature checks the proposer signature with the given
// public key bytes.
func VerifyBlockSignature(b *types.Block, pubKeyBytes []byte) error {
	if len(b.Signature) == 0 {
		return errors.New("block is unsigned")
	}
	pub, err := crypto.NewPublicKeyFromBytes(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("undecodable proposer public key: %w", err)
	}
	payload, err := SerializeForSigning(b)
	if err != nil {
		return err
	}
	sig := crypto.NewSignature(b.Signature)
	if err := pub.Verify(payload, &sig); err != nil {
		return fmt.Errorf("proposer signature invalid: %w", err)
	}
	return nil
}

// VerifyBasic checks block integrity that needs no ledger state: the
// stored hash and transaction root must match recomputation, and every
// transaction must carry a valid signature.
func VerifyBasic(b *types.Block) error {
	expectedHash := b.Hash
	if err := ComputeBlockHash(b); err != nil {
		return err
	}
	if !b.Hash.Equal(expectedHash) {
		b.Hash = expectedHash
		return fmt.Errorf("block hash mismatch at height %d", b.Height)
	}

	txRoot, err := ComputeTxRoot(b)
	if err != nil {
		return err
	}
	if !bytes.Equal(txRoot.Bytes(), b.TxRoot.Bytes()) {
		return fmt.Errorf("transaction root mismatch at height %d", b.Height)
	}

	for i, tx := range b.Transactions {
		if err := tx.VerifySignature(); err != nil {
			return fmt.Errorf("transaction %d invalid: %w", i, err)
		}
	}
	return nil
}
