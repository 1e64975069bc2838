package store

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Codec transforms a document's JSON bytes on their way to and from disk.
type Codec interface {
	Encode(plain []byte) ([]byte, error)
	Decode(stored []byte) ([]byte, error)
}

// PlainCodec stores JSON as is.
type PlainCodec struct{}

func (PlainCodec) Encode(plain []byte) ([]byte, error)  { return plain, nil }
func (PlainCodec) Decode(stored []byte) ([]byte, error) { return stored, nil }

const nonceSize = 24

// obfuscationKey is compiled into the binary. Anyone holding the binary can
// decrypt the files: SecretBoxCodec keeps casual readers of the data
// directory out of player contact details, it is not access control.
var obfuscationKey = sha256.Sum256([]byte("timetrial local document obfuscation"))

// SecretBoxCodec seals documents with NaCl secretbox under the fixed key.
// Output layout is nonce || box.
type SecretBoxCodec struct{}

func (SecretBoxCodec) Encode(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &obfuscationKey), nil
}

func (SecretBoxCodec) Decode(stored []byte) ([]byte, error) {
	if len(stored) < nonceSize+secretbox.Overhead {
		return nil, ErrUndecryptable
	}
	var nonce [nonceSize]byte
	copy(nonce[:], stored[:nonceSize])

	plain, ok := secretbox.Open(nil, stored[nonceSize:], &nonce, &obfuscationKey)
	if !ok {
		return nil, ErrUndecryptable
	}
	return plain, nil
}
