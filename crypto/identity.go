package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Identity binds a participant name and installation to its key material.
// Identities are immutable once created; named participants may be rebuilt
// from persisted keys across runs, while "random" participants are ephemeral.
type Identity struct {
	Name           string
	InstallationID string
	Keys           *KeyPair
	EncryptionKey  [32]byte
}

// NewIdentity creates an identity with freshly generated key material.
func NewIdentity(name, installationID string) (*Identity, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate wallet keys for %s: %w", name, err)
	}

	encryptionKey, err := GenerateEncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate encryption key for %s: %w", name, err)
	}

	return &Identity{
		Name:           name,
		InstallationID: installationID,
		Keys:           keys,
		EncryptionKey:  encryptionKey,
	}, nil
}

// IdentityFromKeys rebuilds an identity from persisted hex-encoded wallet
// and encryption keys.
func IdentityFromKeys(name, installationID, walletKeyHex, encryptionKeyHex string) (*Identity, error) {
	secretKey, err := DecodeKeyHex(walletKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key for %s: %w", name, err)
	}

	keys, err := FromSecretKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key for %s: %w", name, err)
	}

	encryptionKey, err := DecodeKeyHex(encryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key for %s: %w", name, err)
	}

	return &Identity{
		Name:           name,
		InstallationID: installationID,
		Keys:           keys,
		EncryptionKey:  encryptionKey,
	}, nil
}

// InboxID derives the stable inbox identifier for this identity: the
// hex-encoded public key. Two installations of the same participant share
// the same inbox ID.
func (id *Identity) InboxID() string {
	return hex.EncodeToString(id.Keys.Public[:])
}

// Address derives a short printable address for this identity, used only
// for logging and reports.
func (id *Identity) Address() string {
	return "0x" + hex.EncodeToString(id.Keys.Public[:20])
}

// GenerateEncryptionKey creates a random 32-byte symmetric key.
func GenerateEncryptionKey() ([32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	return key, nil
}

// EncodeKeyHex encodes a 32-byte key as a lowercase hex string.
func EncodeKeyHex(key [32]byte) string {
	return hex.EncodeToString(key[:])
}

// DecodeKeyHex decodes a hex string into a 32-byte key.
func DecodeKeyHex(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
