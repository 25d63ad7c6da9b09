package crypto

import (
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/helix-labs/helix/crypto/encryption"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

// NewMnemonic generates a fresh 24-word operator mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// PrivateKeyFromMnemonic derives the operator signing key from a BIP-39
// mnemonic. The derivation is deterministic so a validator can recover its
// key from the mnemonic alone.
func PrivateKeyFromMnemonic(mnemonic, passphrase string) (PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	var keySeed [mldsa44.SeedSize]byte
	digest := blake2b.Sum256(seed)
	copy(keySeed[:], digest[:])
	return NewPrivateKeyFromSeed(keySeed), nil
}

// SavePrivateKey writes a CBOR-marshaled key to disk, readable only by the
// owning user.
func SavePrivateKey(path string, key PrivateKey) error {
	data, err := key.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write private key file: %w", err)
	}
	return nil
}

// LoadPrivateKey reads a CBOR-marshaled key written by SavePrivateKey.
func LoadPrivateKey(path string) (PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	key, err := NewPrivateKeyFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key file: %w", err)
	}
	return key, nil
}

// SaveEncryptedPrivateKey seals the key with AES-256 under a passphrase
// before writing it to disk.
func SaveEncryptedPrivateKey(path string, key PrivateKey, passphrase string) error {
	data, err := key.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	sealed, err := encryption.EncryptWithAES(encryption.KeyFromPassphrase(passphrase), data)
	if err != nil {
		return fmt.Errorf("failed to encrypt private key: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write private key file: %w", err)
	}
	return nil
}

// LoadEncryptedPrivateKey reads a key written by SaveEncryptedPrivateKey.
func LoadEncryptedPrivateKey(path, passphrase string) (PrivateKey, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	data, err := encryption.DecryptWithAES(encryption.KeyFromPassphrase(passphrase), sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}
	key, err := NewPrivateKeyFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key file: %w", err)
	}
	return key, nil
}
