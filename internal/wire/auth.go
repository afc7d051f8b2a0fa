package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/pkg/errors"
)

// intWidth is the fixed width used to encode integers (and booleans, which
// hash as the integers 1 and 0) for signing. Both ends must agree on this
// width; 16 bytes covers the 128-bit proposal numbers and node uids, the
// only integer fields that are ever hashed.
const intWidth = 16

// encodeField renders a single authenticated field to the bytes fed into
// the keyed hash: integers as fixed-width big-endian, strings as UTF-8,
// byte slices as-is, nil as empty.
func encodeField(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *big.Int:
		if v == nil {
			return nil, nil
		}
		return encodeBigInt(v), nil
	case string:
		return []byte(v), nil
	case bool:
		if v {
			return encodeBigInt(big.NewInt(1)), nil
		}
		return encodeBigInt(big.NewInt(0)), nil
	case []byte:
		return v, nil
	default:
		return nil, errors.Errorf("unable to encode type: %T", value)
	}
}

func encodeBigInt(v *big.Int) []byte {
	buf := make([]byte, intWidth)
	v.FillBytes(buf)
	return buf
}

// Sign computes the keyed hash over m's authenticated fields (in declared
// order, secret prepended) and fills it in. It is a no-op if m.GetHash()
// is already non-empty.
func Sign(secret string, m Authenticated) error {
	if m.GetHash() != "" {
		return nil
	}

	hash, err := computeHash(secret, m)
	if err != nil {
		return err
	}

	m.SetHash(hash)
	return nil
}

// Verify reports whether m's carried hash matches the recomputed one.
func Verify(secret string, m Authenticated) (bool, error) {
	hash, err := computeHash(secret, m)
	if err != nil {
		return false, err
	}

	return hash == m.GetHash(), nil
}

func computeHash(secret string, m Authenticated) (string, error) {
	digest := sha256.New()
	digest.Write([]byte(secret))

	for _, field := range m.AuthFields() {
		encoded, err := encodeField(field)
		if err != nil {
			return "", err
		}

		digest.Write(encoded)
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}
