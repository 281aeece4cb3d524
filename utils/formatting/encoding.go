// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package formatting

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	hexPrefix   = "0x"
	checksumLen = 4
)

var (
	errInvalidEncoding  = errors.New("invalid encoding")
	errMissingHexPrefix = errors.New("missing 0x prefix to hex encoding")
	errMissingChecksum  = errors.New("input string is smaller than the checksum size")
	errBadChecksum      = errors.New("invalid input checksum")
)

// Encoding defines how bytes are converted to a string and vice versa
type Encoding uint8

const (
	// Hex specifies a hex plus 4 byte checksum encoding format
	Hex Encoding = iota
	// HexNC specifies a hex encoding format
	HexNC
)

func (enc Encoding) String() string {
	switch enc {
	case Hex:
		return "hex"
	case HexNC:
		return "hexnc"
	default:
		return errInvalidEncoding.Error()
	}
}

func (enc Encoding) valid() bool {
	switch enc {
	case Hex, HexNC:
		return true
	}
	return false
}

func (enc Encoding) MarshalJSON() ([]byte, error) {
	if !enc.valid() {
		return nil, errInvalidEncoding
	}
	return []byte(`"` + enc.String() + `"`), nil
}

func (enc *Encoding) UnmarshalJSON(b []byte) error {
	str := string(b)
	if str == "null" {
		return nil
	}
	switch strings.ToLower(str) {
	case `"hex"`:
		*enc = Hex
	case `"hexnc"`:
		*enc = HexNC
	default:
		return errInvalidEncoding
	}
	return nil
}

// Encode [bytes] to a string using the given encoding format
func Encode(encoding Encoding, bytes []byte) (string, error) {
	switch encoding {
	case Hex:
		checked := make([]byte, len(bytes)+checksumLen)
		copy(checked, bytes)
		copy(checked[len(bytes):], checksum(bytes))
		return fmt.Sprintf("0x%x", checked), nil
	case HexNC:
		return fmt.Sprintf("0x%x", bytes), nil
	default:
		return "", errInvalidEncoding
	}
}

// Decode [str] to bytes using the given encoding
// If [str] is the empty string, returns a nil byte slice and nil error
func Decode(encoding Encoding, str string) ([]byte, error) {
	switch {
	case !encoding.valid():
		return nil, errInvalidEncoding
	case len(str) == 0:
		return nil, nil
	case !strings.HasPrefix(str, hexPrefix):
		return nil, errMissingHexPrefix
	}

	decodedBytes, err := hex.DecodeString(strings.TrimPrefix(str, hexPrefix))
	if err != nil {
		return nil, err
	}
	if encoding == HexNC {
		return decodedBytes, nil
	}

	if len(decodedBytes) < checksumLen {
		return nil, errMissingChecksum
	}
	rawBytes := decodedBytes[:len(decodedBytes)-checksumLen]
	if !bytes.Equal(decodedBytes[len(decodedBytes)-checksumLen:], checksum(rawBytes)) {
		return nil, errBadChecksum
	}
	return rawBytes, nil
}

// checksum returns the last checksumLen bytes of the sha256 hash of [bytes]
func checksum(bytes []byte) []byte {
	digest := sha256.Sum256(bytes)
	return digest[sha256.Size-checksumLen:]
}
