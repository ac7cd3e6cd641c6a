// Package owner implements the Owner identity: a 21-byte OwnerId plus
// the two secrets derived from it (a 32-byte AEAD key and a 16-byte
// WriteKey), all stemming from a single BIP-39 mnemonic through
// domain-separated HKDF expansion (spec §3).
package owner

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// IDSize is the length of a public OwnerId.
	IDSize = 21
	// KeySize is the length of the owner's symmetric AEAD key.
	KeySize = 32
	// WriteKeySize is the length of the write-key secret.
	WriteKeySize = 16
)

// ID is a logical replica group's public identifier.
type ID [IDSize]byte

// Key is the owner's symmetric AEAD key.
type Key [KeySize]byte

// WriteKey authorizes writes for an owner at a relay (spec §3, §4.C).
type WriteKey [WriteKeySize]byte

// Secrets bundles everything derived from one mnemonic for a replica.
type Secrets struct {
	ID       ID
	Key      Key
	WriteKey WriteKey
}

const (
	infoOwnerID  = "evolu-owner-id-v1"
	infoOwnerKey = "evolu-owner-key-v1"
	infoWriteKey = "evolu-owner-writekey-v1"
)

// DeriveSecrets expands a BIP-39 seed (see SeedFromMnemonic) into the
// three owner secrets using HKDF-SHA256 with distinct info labels —
// the domain separation spec §3 calls for, so that knowing one derived
// value never helps recover another.
func DeriveSecrets(seed []byte) (Secrets, error) {
	var s Secrets
	if err := expand(seed, infoOwnerID, s.ID[:]); err != nil {
		return Secrets{}, err
	}
	if err := expand(seed, infoOwnerKey, s.Key[:]); err != nil {
		return Secrets{}, err
	}
	if err := expand(seed, infoWriteKey, s.WriteKey[:]); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

func expand(seed []byte, info string, out []byte) error {
	r := hkdf.New(sha256.New, seed, nil, []byte(info))
	_, err := io.ReadFull(r, out)
	return err
}

// RandomID generates a fresh OwnerId outside of the mnemonic-derived
// flow, used only by tests and tooling that need a throwaway owner.
func RandomID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}
