// Package cbc implements the AES-128-CBC transforms used by the archive format.
//
// Every call constructs a fresh cipher with an all-zero IV; no state is kept
// between calls.
package cbc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// BlockSize is the AES block size.
const BlockSize = aes.BlockSize

var (
	// ErrUnaligned is returned when ciphertext is not a whole number of blocks.
	ErrUnaligned = errors.New("ciphertext is not block aligned")

	// ErrPadding is returned when PKCS#7 padding is malformed after decryption.
	ErrPadding = errors.New("invalid PKCS#7 padding")
)

var zeroIV [BlockSize]byte

// Decrypt decrypts src and returns the full plaintext without removing padding.
func Decrypt(key, src []byte) ([]byte, error) {
	mode, err := newMode(key, len(src), false)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	mode.CryptBlocks(dst, src)
	return dst, nil
}

// DecryptPadded decrypts src and strips PKCS#7 padding.
func DecryptPadded(key, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrPadding)
	}
	plain, err := Decrypt(key, src)
	if err != nil {
		return nil, err
	}
	return unpad(plain)
}

// Encrypt encrypts src, which must already be block aligned.
func Encrypt(key, src []byte) ([]byte, error) {
	mode, err := newMode(key, len(src), true)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	mode.CryptBlocks(dst, src)
	return dst, nil
}

// EncryptPadded appends PKCS#7 padding to src and encrypts it.
func EncryptPadded(key, src []byte) ([]byte, error) {
	return Encrypt(key, Pad(src))
}

// Pad returns src with PKCS#7 padding appended.
func Pad(src []byte) []byte {
	n := BlockSize - len(src)%BlockSize
	out := make([]byte, len(src), len(src)+n)
	copy(out, src)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

// ZeroPad returns src extended with zero bytes to a block boundary.
func ZeroPad(src []byte) []byte {
	rem := len(src) % BlockSize
	if rem == 0 {
		return append([]byte(nil), src...)
	}
	out := make([]byte, len(src)+BlockSize-rem)
	copy(out, src)
	return out
}

func unpad(plain []byte) ([]byte, error) {
	n := int(plain[len(plain)-1])
	if n == 0 || n > BlockSize || n > len(plain) {
		return nil, fmt.Errorf("%w: pad length %d", ErrPadding, n)
	}
	for _, b := range plain[len(plain)-n:] {
		if int(b) != n {
			return nil, ErrPadding
		}
	}
	return plain[:len(plain)-n], nil
}

func newMode(key []byte, n int, encrypt bool) (cipher.BlockMode, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("aes-128: invalid key size %d", len(key))
	}
	if n%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnaligned, n)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		return cipher.NewCBCEncrypter(block, zeroIV[:]), nil
	}
	return cipher.NewCBCDecrypter(block, zeroIV[:]), nil
}
