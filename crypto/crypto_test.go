package crypto

import (
	"path/filepath"
	"testing"
)

func TestKeyGeneration(t *testing.T) {
	privKey, err := NewPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate keys: %v", err)
	}
	if privKey == nil {
		t.Fatalf("NewPrivateKey returned nil")
	}
}

func TestPublicKeyMarshalRoundTrip(t *testing.T) {
	privKey, err := NewPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate keys: %v", err)
	}
	pubKey1 := privKey.PublicKey()
	if pubKey1 == nil {
		t.Fatalf("privKey.PublicKey() returned nil")
	}

	marshaled, err := pubKey1.Marshal()
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	pubKey2, err := NewPublicKeyFromBytes(marshaled)
	if err != nil {
		t.Fatalf("NewPublicKeyFromBytes failed: %v", err)
	}
	if !pubKey1.Equal(&pubKey2) {
		t.Errorf("Public keys should be equal after marshal/unmarshal")
	}
}

func TestSigningAndVerification(t *testing.T) {
	privKey, err := NewPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}
	pubKey := privKey.PublicKey()

	msg := []byte("test message for signing and verification")

	sig := privKey.Sign(msg)
	if sig == nil {
		t.Fatalf("Sign returned nil signature")
	}

	if err := pubKey.Verify(msg, &sig); err != nil {
		t.Errorf("Verification failed using pubKey.Verify: %v", err)
	}
	if err := sig.Verify(&pubKey, msg); err != nil {
		t.Errorf("Verification failed using sig.Verify: %v", err)
	}

	wrongMsg := []byte("this is not the correct message")
	if err := pubKey.Verify(wrongMsg, &sig); err == nil {
		t.Errorf("Verification succeeded with wrong message, expected failure")
	}

	privKeyWrong, _ := NewPrivateKey()
	pubKeyWrong := privKeyWrong.PublicKey()
	if err := pubKeyWrong.Verify(msg, &sig); err == nil {
		t.Errorf("Verification succeeded with wrong public key, expected failure")
	}
}

func TestSignatureComparison(t *testing.T) {
	privKey, err := NewPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}
	msg := []byte("test message for signature comparison")

	sig1 := privKey.Sign(msg)
	sig2 := privKey.Sign(msg)
	if sig1 == nil || sig2 == nil {
		t.Fatalf("Sign returned nil signature(s)")
	}

	if !sig1.Equal(sig1) {
		t.Errorf("Signature should be equal to itself")
	}
	if !sig1.Equal(sig2) {
		t.Errorf("Deterministic signatures of the same message should be equal")
	}

	sig3 := privKey.Sign([]byte("a different message"))
	if sig1.Equal(sig3) {
		t.Errorf("Signatures of different messages should differ")
	}
}

func TestPrivateKeyMarshalRoundTrip(t *testing.T) {
	privKey1, err := NewPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	marshaled, err := privKey1.Marshal()
	if err != nil {
		t.Fatalf("privKey1.Marshal() failed: %v", err)
	}
	privKey2, err := NewPrivateKeyFromBytes(marshaled)
	if err != nil {
		t.Fatalf("NewPrivateKeyFromBytes failed: %v", err)
	}
	if !privKey1.Equal(&privKey2) {
		t.Errorf("Private keys should be equal after marshal/unmarshal")
	}
}

func TestMnemonicDerivation(t *testing.T) {
	mnemonic, err := NewMnemonic()
	if err != nil {
		t.Fatalf("NewMnemonic failed: %v", err)
	}

	key1, err := PrivateKeyFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("PrivateKeyFromMnemonic failed: %v", err)
	}
	key2, err := PrivateKeyFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("PrivateKeyFromMnemonic failed on second derivation: %v", err)
	}
	if !key1.Equal(&key2) {
		t.Errorf("Same mnemonic should derive the same key")
	}

	key3, err := PrivateKeyFromMnemonic(mnemonic, "other-passphrase")
	if err != nil {
		t.Fatalf("PrivateKeyFromMnemonic with passphrase failed: %v", err)
	}
	if key1.Equal(&key3) {
		t.Errorf("Different passphrases should derive different keys")
	}

	if _, err := PrivateKeyFromMnemonic("definitely not a valid mnemonic", ""); err == nil {
		t.Errorf("Invalid mnemonic should be rejected")
	}
}

func TestSaveLoadPrivateKey(t *testing.T) {
	privKey, err := NewPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "operator.key")
	if err := SavePrivateKey(path, privKey); err != nil {
		t.Fatalf("SavePrivateKey failed: %v", err)
	}
	loaded, err := LoadPrivateKey(path)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}
	if !privKey.Equal(&loaded) {
		t.Errorf("Loaded key should equal saved key")
	}
}

func TestSaveLoadEncryptedPrivateKey(t *testing.T) {
	privKey, err := NewPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "operator.key.enc")
	if err := SaveEncryptedPrivateKey(path, privKey, "hunter2"); err != nil {
		t.Fatalf("SaveEncryptedPrivateKey failed: %v", err)
	}
	loaded, err := LoadEncryptedPrivateKey(path, "hunter2")
	if err != nil {
		t.Fatalf("LoadEncryptedPrivateKey failed: %v", err)
	}
	if !privKey.Equal(&loaded) {
		t.Errorf("Loaded key should equal saved key")
	}

	if _, err := LoadEncryptedPrivateKey(path, "wrong-passphrase"); err == nil {
		t.Errorf("Loading with a wrong passphrase should fail")
	}
}
