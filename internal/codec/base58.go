package codec

import "strings"

// Base58 uses the Bitcoin alphabet: no 0, O, I or l, so codes survive being
// read aloud or retyped. It has no salt; codes reveal the id ordering.
type Base58 struct{}

const (
	alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	base     = uint64(len(alphabet))
)

func (Base58) Encode(id uint64) (string, error) {
	if id == 0 {
		return "", ErrInvalidID
	}

	var buf [11]byte // 58^11 > 2^64
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = alphabet[id%base]
		id /= base
	}
	return checkLength(string(buf[i:]))
}

func (Base58) Decode(code string) (uint64, error) {
	if code == "" || len(code) > MaxLength {
		return 0, ErrInvalidCode
	}

	var id uint64
	for i := 0; i < len(code); i++ {
		d := strings.IndexByte(alphabet, code[i])
		if d < 0 {
			return 0, ErrInvalidCode
		}
		id = id*base + uint64(d)
	}
	if id == 0 {
		return 0, ErrInvalidCode
	}
	return id, nil
}
