// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/constants"
	"github.com/luxfi/ids"

	"github.com/luxfi/relay/cipher"
	"github.com/luxfi/relay/utils/compression"
	"github.com/luxfi/relay/utils/formatting"
)

const DefaultAPIPort = 9690

var (
	ErrInvalidStake           = errors.New("invalid stake configuration")
	ErrInvalidQuorum          = errors.New("invalid quorum configuration")
	ErrInvalidAdmins          = errors.New("invalid admins configuration")
	ErrInvalidVerificationKey = errors.New("invalid verification key configuration")
	ErrInvalidPayloadKey      = errors.New("invalid payload key configuration")
	ErrInvalidKEMKeys         = errors.New("invalid kem key configuration")
	ErrInvalidPayloadSize     = errors.New("invalid payload size configuration")
)

// Config holds the runtime configuration of a relay node.
type Config struct {
	// API settings
	APIHost string `json:"apiHost"`
	APIPort uint16 `json:"apiPort"` // Default: 9690

	// Consensus settings
	MinStake          uint64 `json:"minStake"`
	QuorumNumerator   uint64 `json:"quorumNumerator"`
	QuorumDenominator uint64 `json:"quorumDenominator"`

	// Addresses allowed to register validators. An empty list leaves
	// registration open.
	Admins []string `json:"admins"`

	// Proof settings. The verification key seeds commitment checks and
	// must match across nodes validating the same transactions.
	ProofVerificationKey string `json:"proofVerificationKey"`

	// Payload settings. Key material is plain hex. PayloadKey selects
	// AES-256-GCM sealing, the KEM keys select ML-KEM-768 hybrid
	// sealing, neither relays in the clear.
	PayloadKey       string `json:"payloadKey"`
	KEMPublicKey     string `json:"kemPublicKey"`
	KEMPrivateKey    string `json:"kemPrivateKey"`
	CompressPayloads bool   `json:"compressPayloads"`
	MaxPayloadSize   int64  `json:"maxPayloadSize"`

	// Storage
	DataDir string `json:"dataDir"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() Config {
	return Config{
		APIHost:           "127.0.0.1",
		APIPort:           DefaultAPIPort,
		MinStake:          100,
		QuorumNumerator:   70,
		QuorumDenominator: 100,
		CompressPayloads:  true,
		MaxPayloadSize:    int64(2 * constants.MiB),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.APIPort == 0 {
		c.APIPort = DefaultAPIPort
	}

	if c.MinStake == 0 {
		return ErrInvalidStake
	}
	if c.QuorumDenominator == 0 || c.QuorumNumerator > c.QuorumDenominator {
		return ErrInvalidQuorum
	}

	if _, err := c.AdminAddresses(); err != nil {
		return err
	}
	if _, err := c.VerificationKey(); err != nil {
		return err
	}
	if _, err := c.PayloadCipher(); err != nil {
		return err
	}
	_, err := c.PayloadCompressor()
	return err
}

// VerificationKey decodes the configured proof verification key.
func (c *Config) VerificationKey() ([]byte, error) {
	key, err := formatting.Decode(formatting.HexNC, c.ProofVerificationKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerificationKey, err)
	}
	return key, nil
}

// AdminAddresses parses the configured admin addresses.
func (c *Config) AdminAddresses() ([]ids.ShortID, error) {
	admins := make([]ids.ShortID, len(c.Admins))
	for i, addrStr := range c.Admins {
		addr, err := ids.ShortFromString(addrStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAdmins, addrStr, err)
		}
		admins[i] = addr
	}
	return admins, nil
}

// PayloadCipher builds the cipher relayed payloads are sealed with.
func (c *Config) PayloadCipher() (cipher.Cipher, error) {
	switch {
	case c.PayloadKey != "" && c.KEMPublicKey != "":
		return nil, fmt.Errorf("%w: both payload key and kem keys set", ErrInvalidPayloadKey)
	case c.PayloadKey != "":
		key, err := formatting.Decode(formatting.HexNC, c.PayloadKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayloadKey, err)
		}
		return cipher.NewAESGCM(key)
	case c.KEMPublicKey != "":
		publicKey, err := formatting.Decode(formatting.HexNC, c.KEMPublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKEMKeys, err)
		}
		privateKey, err := formatting.Decode(formatting.HexNC, c.KEMPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKEMKeys, err)
		}
		return cipher.NewHybridKEM(publicKey, privateKey)
	case c.KEMPrivateKey != "":
		return nil, fmt.Errorf("%w: kem private key without public key", ErrInvalidKEMKeys)
	default:
		return cipher.Noop{}, nil
	}
}

// PayloadCompressor builds the compressor relayed payloads are stored
// with.
func (c *Config) PayloadCompressor() (compression.Compressor, error) {
	if !c.CompressPayloads {
		return compression.NewNoCompressor(), nil
	}
	if c.MaxPayloadSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPayloadSize, c.MaxPayloadSize)
	}
	return compression.NewZstdCompressor(c.MaxPayloadSize)
}

// ParseConfig parses configuration from JSON bytes.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
