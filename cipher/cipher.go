// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cipher seals relay payloads before they are handed to a
// destination chain and opens payloads received from a source chain.
//
// Two implementations are provided. AESGCM is a symmetric AES-256-GCM
// cipher for deployments where both endpoints share a key. HybridKEM is
// a quantum-safe hybrid that encapsulates a fresh secret to the
// recipient's ML-KEM-768 public key (FIPS 203) and seals the payload
// with AES-256-GCM under that secret.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

const (
	// KeyLen is the AES-256 key length.
	KeyLen = 32

	// NonceLen is the AES-GCM nonce length.
	NonceLen = 12

	// TagLen is the AES-GCM authentication tag length.
	TagLen = 16

	// KEMPublicKeyLen is the ML-KEM-768 public key length.
	KEMPublicKeyLen = 1184

	// KEMCiphertextLen is the ML-KEM-768 encapsulated key length.
	KEMCiphertextLen = 1088
)

var (
	ErrInvalidKey        = errors.New("invalid key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")

	_ Cipher = (*AESGCM)(nil)
	_ Cipher = (*HybridKEM)(nil)
	_ Cipher = Noop{}
)

// Cipher seals and opens relay payloads. Implementations must be safe
// for concurrent use.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
}

// AESGCM is a symmetric AES-256-GCM cipher. Each sealed payload carries
// its random nonce as a prefix, so Encrypt and Decrypt share no state
// beyond the key.
type AESGCM struct {
	key []byte
}

// NewAESGCM returns a cipher sealing under the given 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidKey, len(key), KeyLen)
	}
	return &AESGCM{key: key}, nil
}

func (c *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	return aesGCMSeal(c.key, plaintext)
}

func (c *AESGCM) Decrypt(sealed []byte) ([]byte, error) {
	return aesGCMOpen(c.key, sealed)
}

// HybridKEM seals payloads to an ML-KEM-768 recipient. Each Encrypt
// encapsulates a fresh shared secret to the recipient's public key and
// seals the payload with AES-256-GCM under that secret. The sealed
// framing is the encapsulated key followed by the nonce-prefixed
// AES-GCM output.
type HybridKEM struct {
	publicKey  []byte
	privateKey []byte
}

// NewHybridKEM returns a cipher sealing to the given ML-KEM-768 public
// key. privateKey may be nil on the sending side, in which case Decrypt
// fails with ErrInvalidKey.
func NewHybridKEM(publicKey []byte, privateKey []byte) (*HybridKEM, error) {
	if len(publicKey) != KEMPublicKeyLen {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidKey, len(publicKey), KEMPublicKeyLen)
	}
	return &HybridKEM{
		publicKey:  publicKey,
		privateKey: privateKey,
	}, nil
}

func (c *HybridKEM) Encrypt(plaintext []byte) ([]byte, error) {
	scheme := mlkem768.Scheme()
	pk, err := scheme.UnmarshalBinaryPublicKey(c.publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal public key: %v", ErrInvalidKey, err)
	}

	// Encapsulate to generate the shared secret and its encapsulated key
	encapsulated, sharedSecret, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, fmt.Errorf("ML-KEM encapsulation failed: %w", err)
	}

	sealed, err := aesGCMSeal(sharedSecret, plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(encapsulated)+len(sealed))
	out = append(out, encapsulated...)
	return append(out, sealed...), nil
}

func (c *HybridKEM) Decrypt(sealed []byte) ([]byte, error) {
	if len(c.privateKey) == 0 {
		return nil, fmt.Errorf("%w: no ML-KEM private key", ErrInvalidKey)
	}
	if len(sealed) < KEMCiphertextLen+NonceLen+TagLen {
		return nil, fmt.Errorf("%w: sealed payload too short", ErrInvalidCiphertext)
	}

	scheme := mlkem768.Scheme()
	sk, err := scheme.UnmarshalBinaryPrivateKey(c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal private key: %v", ErrInvalidKey, err)
	}

	// Decapsulate to recover the shared secret
	sharedSecret, err := scheme.Decapsulate(sk, sealed[:KEMCiphertextLen])
	if err != nil {
		return nil, fmt.Errorf("%w: ML-KEM decapsulation failed: %v", ErrDecryptionFailed, err)
	}

	return aesGCMOpen(sharedSecret, sealed[KEMCiphertextLen:])
}

// Noop passes payloads through unchanged, for deployments that relay in
// the clear.
type Noop struct{}

func (Noop) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (Noop) Decrypt(sealed []byte) ([]byte, error)    { return sealed, nil }

// aesGCMSeal encrypts plaintext with AES-256-GCM, prepending the random
// nonce to the sealed output.
func aesGCMSeal(key []byte, plaintext []byte) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidKey, len(key), KeyLen)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, err := secureRandom(gcm.NonceSize())
	if err != nil {
		return nil, err
	}

	// Sealing into the nonce slice prepends it to the ciphertext
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// aesGCMOpen decrypts a nonce-prefixed AES-256-GCM payload.
func aesGCMOpen(key []byte, sealed []byte) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidKey, len(key), KeyLen)
	}
	if len(sealed) < NonceLen+TagLen {
		return nil, fmt.Errorf("%w: sealed payload too short", ErrInvalidCiphertext)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, ciphertext := sealed[:NonceLen], sealed[NonceLen:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// secureRandom generates cryptographically secure random bytes.
func secureRandom(length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
