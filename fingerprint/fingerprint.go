// Package fingerprint converts a content hash prefix to and from the short
// token embedded in versioned asset URLs.
//
// A token is the URL-safe base64 encoding, without padding, of the first
// Size bytes of the hash. With Size = 8 every token is 11 characters long.
package fingerprint

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Size is the number of hash bytes carried in a token.
const Size = 8

// TokenLen is the length of an encoded fingerprint.
const TokenLen = (Size*8 + 5) / 6

var encoding = base64.RawURLEncoding.Strict()

var (
	// ErrMalformedToken matches every decoding failure.
	ErrMalformedToken = errors.New("malformed fingerprint token")
	// ErrInvalidFormat means the token is not canonical unpadded URL-safe base64.
	ErrInvalidFormat = fmt.Errorf("%w: invalid format", ErrMalformedToken)
	// ErrInvalidLength means the token decodes to something other than Size bytes.
	ErrInvalidLength = fmt.Errorf("%w: invalid length", ErrMalformedToken)
)

type Fingerprint [Size]byte

// Of returns the fingerprint of a content hash.
// It panics if the hash is shorter than Size.
func Of(hash []byte) Fingerprint {
	if len(hash) < Size {
		panic(fmt.Sprintf("hash of %d bytes is shorter than a fingerprint", len(hash)))
	}
	var f Fingerprint
	copy(f[:], hash)
	return f
}

func Encode(f Fingerprint) string {
	return encoding.EncodeToString(f[:])
}

func (f Fingerprint) String() string {
	return Encode(f)
}

// Matches reports whether f is a prefix of hash.
func (f Fingerprint) Matches(hash []byte) bool {
	if len(hash) < Size {
		return false
	}
	return [Size]byte(hash[:Size]) == [Size]byte(f)
}

// Decode parses a token into its raw bytes.
// The result always has exactly Size bytes when err is nil.
func Decode(token string) ([]byte, error) {
	if !validAlphabet(token) {
		return nil, ErrInvalidFormat
	}
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(raw) != Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(raw), Size)
	}
	return raw, nil
}

// Parse is Decode returning a Fingerprint.
func Parse(token string) (Fingerprint, error) {
	raw, err := Decode(token)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint(raw), nil
}

// validAlphabet rejects characters the decoder would otherwise skip, such as newlines.
func validAlphabet(token string) bool {
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
