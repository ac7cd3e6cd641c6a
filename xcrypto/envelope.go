// Package xcrypto implements the AEAD envelope around a serialized
// Change (spec §4.C): XChaCha20-Poly1305 with a 24-byte random nonce
// and associated data binding the ciphertext to its (ownerId,
// timestamp) so a swapped envelope fails to authenticate.
package xcrypto

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/evolu-go/sync/synerr"
)

// NonceSize is the XChaCha20-Poly1305 nonce length (spec §4.C: 24
// random bytes).
const NonceSize = chacha20poly1305.NonceSizeX

// Seal encrypts plaintext under key, binding associatedData (the
// owner ID concatenated with the encoded timestamp) as AEAD
// associated data. The returned ciphertext is nonce || sealed box.
func Seal(key [32]byte, associatedData, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, &synerr.Storage{Cause: err}
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, &synerr.Storage{Cause: err}
	}
	out := aead.Seal(nonce, nonce, plaintext, associatedData)
	return out, nil
}

// Open decrypts a ciphertext produced by Seal. Any authentication
// failure — tamper or wrong key — returns synerr.ErrDecrypt without
// distinguishing the cause (spec §4.C, §7).
func Open(key [32]byte, associatedData, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, &synerr.Storage{Cause: err}
	}
	if len(ciphertext) < NonceSize {
		return nil, synerr.ErrDecrypt
	}
	nonce, box := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plain, err := aead.Open(nil, nonce, box, associatedData)
	if err != nil {
		return nil, synerr.ErrDecrypt
	}
	return plain, nil
}
