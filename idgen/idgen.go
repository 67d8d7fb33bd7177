// Package idgen generates short random identifiers for callers that want a
// charset-constrained code rather than a full uuid.NewString() trace ID —
// the kind mux/demux/swap attach to their log lines (see mux.go, demux.go,
// hub/swap.go).
//
// Adapted from the teacher's utils.GenerateRandomCode; TrapSignal was
// dropped rather than carried here since OS-signal handling of a CLI host
// is an explicit spec non-goal (spec.md §1) and nothing in this module
// needs it.
package idgen

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// Character sets.
const (
	Digits       = "0123456789"
	Alphabets    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	AlphaNumeric = Digits + Alphabets
)

// Code generates a random string of length using charset (Digits if empty).
func Code(length uint8, charset string) (string, error) {
	if length == 0 {
		return "", errors.New("idgen: length must be greater than zero")
	}

	if charset == "" {
		charset = Digits
	}

	max := big.NewInt(int64(len(charset)))
	code := make([]byte, length)

	for i := range code {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}

	return string(code), nil
}
