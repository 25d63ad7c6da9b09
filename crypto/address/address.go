package address

import (
	"bytes"
	"fmt"

	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/fxamacker/cbor/v2"
	"github.com/helix-labs/helix/crypto/hash"
)

const (
	// AddressWords is the number of 5-bit words in the data part of the
	// Bech32 address: 20 hash bytes -> 160 bits / 5 bits per word.
	AddressWords = 32
	AddressHRP   = "hx"
)

// Address holds the 32 5-bit words of the Bech32 data part.
type Address [AddressWords]byte

// New derives an Address from a public key: BLAKE2b-256 of the key bytes,
// truncated to 20 bytes, regrouped into 5-bit words.
func New(pubKey *mldsa.PublicKey) (*Address, error) {
	pubKeyBytes := pubKey.Bytes()
	hashBytes := hash.NewHash(pubKeyBytes)
	addressBytes := hashBytes[:20]

	words, err := bech32.ConvertBits(addressBytes, 8, 5, true)
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key hash to 5-bit words: %w", err)
	}
	if len(words) != AddressWords {
		return nil, fmt.Errorf("unexpected number of words after conversion: got %d, want %d", len(words), AddressWords)
	}

	var addr Address
	copy(addr[:], words)
	return &addr, nil
}

// NullAddress creates a zeroed Address.
func NullAddress() *Address {
	return &Address{}
}

// Validate reports whether a string is a well-formed helix address.
func Validate(addr string) bool {
	hrp, words, err := bech32.Decode(addr)
	if err != nil {
		return false
	}
	if hrp != AddressHRP {
		return false
	}
	return len(words) == AddressWords
}

// FromString decodes a bech32 address string.
func FromString(addr string) (*Address, error) {
	hrp, words, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bech32 address %q: %w", addr, err)
	}
	if hrp != AddressHRP {
		return nil, fmt.Errorf("invalid address HRP: expected %q, got %q", AddressHRP, hrp)
	}
	if len(words) != AddressWords {
		return nil, fmt.Errorf("invalid decoded data length: expected %d words, got %d", AddressWords, len(words))
	}

	var a Address
	copy(a[:], words)
	return &a, nil
}

// Bytes returns the raw internal representation (32 5-bit words).
func (a *Address) Bytes() []byte {
	return a[:]
}

// String encodes the stored words into a Bech32 string.
func (a *Address) String() string {
	encoded, err := bech32.Encode(AddressHRP, a.Bytes())
	if err != nil {
		return ""
	}
	return encoded
}

func (a *Address) Marshal() ([]byte, error) {
	return cbor.Marshal(a[:])
}

func (a *Address) Unmarshal(data []byte) error {
	var slice []byte
	if err := cbor.Unmarshal(data, &slice); err != nil {
		return err
	}
	if len(slice) != AddressWords {
		return fmt.Errorf("unmarshaled data has incorrect length: expected %d, got %d", AddressWords, len(slice))
	}
	copy(a[:], slice)
	return nil
}

// Compare checks if two Addresses are identical.
func (a *Address) Compare(other Address) bool {
	return bytes.Equal(a[:], other[:])
}
