package codec

import (
	"fmt"
	"math"

	"github.com/speps/go-hashids/v2"
)

// Hashids is the default codec. The salt is configuration: changing it
// changes every code that will be generated afterwards, so it must be
// fixed for the lifetime of a deployment.
type Hashids struct {
	h *hashids.HashID
}

func NewHashids(salt string, minLength int) (*Hashids, error) {
	if minLength < 0 || minLength > MaxLength {
		return nil, fmt.Errorf("codec: hashids min length %d out of range [0,%d]", minLength, MaxLength)
	}
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = minLength

	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("codec: init hashids: %w", err)
	}
	return &Hashids{h: h}, nil
}

func (c *Hashids) Encode(id uint64) (string, error) {
	if id == 0 || id > math.MaxInt64 {
		return "", ErrInvalidID
	}
	code, err := c.h.EncodeInt64([]int64{int64(id)})
	if err != nil {
		return "", fmt.Errorf("codec: encode %d: %w", id, err)
	}
	return checkLength(code)
}

func (c *Hashids) Decode(code string) (uint64, error) {
	if code == "" || len(code) > MaxLength {
		return 0, ErrInvalidCode
	}
	ids, err := c.h.DecodeInt64WithError(code)
	if err != nil || len(ids) != 1 || ids[0] <= 0 {
		return 0, ErrInvalidCode
	}
	return uint64(ids[0]), nil
}
