// Package testutil builds encrypted package fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/untfo/tfopkg/internal/cbc"
	"github.com/untfo/tfopkg/internal/pathutil"
	"github.com/untfo/tfopkg/keys"
)

// Test secrets. They are arbitrary; real secrets come from configuration.
const (
	HeaderSecret = "test-header-secret"
	DataSecret   = "test-data-secret"
)

// DefaultHash is a 32-character placeholder for the package hash field.
var DefaultHash = strings.Repeat("0123456789abcdef", 2)

// TestFile describes one file stored in a fixture data package.
type TestFile struct {
	Name    string
	Content []byte
	Flags   uint8

	// Plain stores the payload unencrypted.
	Plain bool

	// Size overrides the recorded logical size when non-zero.
	Size uint64

	// Gap and Tail fill record bytes 260 and 287, which readers must ignore.
	Gap  byte
	Tail byte
}

// TestDataPackage describes a fixture data package.
type TestDataPackage struct {
	Hash         string // defaults to DefaultHash
	HeaderSecret string // defaults to HeaderSecret
	DataSecret   string // defaults to DataSecret

	// HeaderPrefix replaces header bytes 0-3, which must be zero in valid packages.
	HeaderPrefix [4]byte
	Reserved     [4]byte

	// FileCount overrides the recorded file count when non-zero.
	FileCount uint32

	Files []TestFile
}

// Build encrypts the package as the packer would, deriving keys from name.
func (p TestDataPackage) Build(tb testing.TB, name string) []byte {
	tb.Helper()

	hash := p.Hash
	if hash == "" {
		hash = DefaultHash
	}
	headerSecret := p.HeaderSecret
	if headerSecret == "" {
		headerSecret = HeaderSecret
	}
	dataSecret := p.DataSecret
	if dataSecret == "" {
		dataSecret = DataSecret
	}
	count := p.FileCount
	if count == 0 {
		count = uint32(len(p.Files)) //nolint:gosec // fixtures are small
	}

	var out bytes.Buffer
	var hashField [33]byte
	copy(hashField[:32], hash)
	out.Write(hashField[:])

	headerKey := keys.DataKey(headerSecret, name)
	out.Write(EncryptHeader(tb, headerKey, p.HeaderPrefix, count, p.Reserved))

	var payloads bytes.Buffer
	for _, f := range p.Files {
		stored := f.Content
		if !f.Plain {
			k := keys.DataKey(dataSecret, pathutil.Base(f.Name))
			stored = mustEncrypt(tb, k[:], cbc.ZeroPad(f.Content))
		}
		size := uint64(len(f.Content))
		if f.Size != 0 {
			size = f.Size
		}

		var rec [288]byte
		copy(rec[:260], f.Name)
		rec[260] = f.Gap
		rec[287] = f.Tail
		binary.LittleEndian.PutUint64(rec[261:], uint64(payloads.Len()))
		binary.LittleEndian.PutUint64(rec[269:], uint64(len(stored)))
		binary.LittleEndian.PutUint64(rec[277:], size)
		rec[285] = f.Flags
		if !f.Plain {
			rec[286] = 1
		}
		out.Write(mustEncrypt(tb, headerKey[:], rec[:]))
		payloads.Write(stored)
	}
	out.Write(payloads.Bytes())
	return out.Bytes()
}

// EncryptHeader builds the encrypted 16-byte data package header.
func EncryptHeader(tb testing.TB, key keys.Key, prefix [4]byte, count uint32, reserved [4]byte) []byte {
	tb.Helper()

	var plain [12]byte
	copy(plain[0:4], prefix[:])
	binary.LittleEndian.PutUint32(plain[4:8], count)
	copy(plain[8:12], reserved[:])
	return mustEncrypt(tb, key[:], cbc.ZeroPad(plain[:]))
}

// TestIndexPackage describes a fixture index package.
type TestIndexPackage struct {
	Version  uint16 // defaults to 2
	Cipher   uint8  // defaults to 2
	Selector uint8
	Material keys.Key
	Catalog  string

	// DeclaredLength overrides the header length when non-nil.
	DeclaredLength *uint32

	// Trailing is appended after the ciphertext.
	Trailing []byte
}

// Build encrypts the catalog with the key derived from name.
func (p TestIndexPackage) Build(tb testing.TB, name string) []byte {
	tb.Helper()

	version := p.Version
	if version == 0 {
		version = 2
	}
	cipherCode := p.Cipher
	if cipherCode == 0 {
		cipherCode = 2
	}

	key := keys.IndexKey(p.Selector, p.Material, name)
	ct, err := cbc.EncryptPadded(key[:], []byte(p.Catalog))
	if err != nil {
		tb.Fatalf("encrypt catalog: %v", err)
	}
	declared := uint32(len(ct)) //nolint:gosec // fixtures are small
	if p.DeclaredLength != nil {
		declared = *p.DeclaredLength
	}

	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint16(hdr[0:2], version)
	hdr[2] = cipherCode
	hdr[3] = p.Selector
	binary.LittleEndian.PutUint32(hdr[4:8], declared)

	out := append(hdr, ct...)
	return append(out, p.Trailing...)
}

func mustEncrypt(tb testing.TB, key, plain []byte) []byte {
	tb.Helper()

	ct, err := cbc.Encrypt(key, plain)
	if err != nil {
		tb.Fatalf("encrypt: %v", err)
	}
	return ct
}
