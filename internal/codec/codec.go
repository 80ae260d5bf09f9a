// Package codec maps durable link ids to short public codes and back.
//
// Codecs are pure: the same parameters always produce the same code for a
// given id, across processes and restarts.
package codec

import (
	"errors"
	"fmt"
)

// MaxLength is the widest code the short_links.code column accepts.
const MaxLength = 8

var (
	ErrInvalidID   = errors.New("codec: id must be positive")
	ErrInvalidCode = errors.New("codec: invalid code")
	ErrCodeTooLong = errors.New("codec: encoded code exceeds max length")
)

type Codec interface {
	Encode(id uint64) (string, error)
	Decode(code string) (uint64, error)
}

// New returns the codec selected by name ("hashids" or "base58").
func New(name, salt string, minLength int) (Codec, error) {
	switch name {
	case "", "hashids":
		return NewHashids(salt, minLength)
	case "base58":
		return Base58{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

func checkLength(code string) (string, error) {
	if len(code) > MaxLength {
		return "", fmt.Errorf("%w: %q", ErrCodeTooLong, code)
	}
	return code, nil
}
