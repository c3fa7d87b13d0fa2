package tfopkg

import (
	"fmt"

	"github.com/untfo/tfopkg/internal/sizing"
)

// Data package layout.
const (
	// HashFieldSize is the size of the hash text plus its padding byte.
	HashFieldSize = 33

	// HashSize is the number of meaningful hash characters.
	HashSize = 32

	// HeaderBlockSize is the size of the encrypted package header.
	HeaderBlockSize = 16

	// EntryBlockSize is the size of one encrypted file record.
	EntryBlockSize = 288

	// MaxNameSize is the size of the NUL-terminated name field in a record.
	MaxNameSize = 260

	headerPayloadSize = 12
	entryPayloadSize  = 287
)

// Index package layout.
const (
	// IndexHeaderSize is version(2) + cipher(1) + key selector(1) + length(4).
	IndexHeaderSize = 2 + 1 + 1 + 4

	// MaxKnownSelector bounds the selectors seen in shipped index packages.
	// Larger values are accepted but logged.
	MaxKnownSelector = 13
)

// Secrets holds the two strings used to derive data package keys.
type Secrets struct {
	// Header derives the key for the package header and file records.
	Header string

	// Data derives the per-file payload keys.
	Data string
}

// PackageHeader is the decoded fixed header of a data package.
type PackageHeader struct {
	// Hash is the 32-character integrity hash stored in plaintext.
	Hash string

	// FileCount is the number of file records following the header.
	FileCount uint32

	// Reserved holds header bytes 8-11 verbatim.
	Reserved [4]byte
}

// TotalHeaderSize returns the size of the hash field, the header block and all
// file records. Entry seeks are relative to this offset.
func (h PackageHeader) TotalHeaderSize() int64 {
	return HashFieldSize + HeaderBlockSize + EntryBlockSize*int64(h.FileCount)
}

// FileEntry describes one file stored in a data package.
type FileEntry struct {
	// Name is the stored path, as written by the packer.
	Name string

	// Seek is the payload offset relative to the end of the header region.
	Seek uint64

	// SizeEncrypted is the stored payload size, padded to the cipher block size.
	SizeEncrypted uint64

	// Size is the logical payload size.
	Size uint64

	// Flags is the opaque record byte 285, most likely a compression marker.
	// It is surfaced but never interpreted.
	Flags uint8

	// Encrypted reports whether the payload is encrypted.
	Encrypted bool
}

// DataPackage is a decoded data package header and its file records in
// on-disk order. It is read-only once returned.
type DataPackage struct {
	Header  PackageHeader
	Entries []FileEntry
}

// DataOffset returns the absolute offset of e's payload.
func (p *DataPackage) DataOffset(e *FileEntry) (int64, error) {
	off, err := sizing.Offset(p.Header.TotalHeaderSize(), e.Seek, ErrSizeOverflow)
	if err != nil {
		return 0, fmt.Errorf("offset of %s: %w", e.Name, err)
	}
	return off, nil
}

// Version is an index package format version.
type Version uint16

// VersionTFO is the only supported index version.
const VersionTFO Version = 2

// Supported reports whether v can be decoded.
func (v Version) Supported() bool { return v == VersionTFO }

// String returns the human-readable version name.
func (v Version) String() string {
	if v == VersionTFO {
		return "tfo"
	}
	return fmt.Sprintf("unsupported(%d)", uint16(v))
}

// Cipher is an index package catalog cipher.
type Cipher uint8

// CipherAES is AES-128-CBC with PKCS#7 padding, the only supported cipher.
const CipherAES Cipher = 2

// Supported reports whether c can be decoded.
func (c Cipher) Supported() bool { return c == CipherAES }

// String returns the human-readable cipher name.
func (c Cipher) String() string {
	if c == CipherAES {
		return "aes-128-cbc"
	}
	return fmt.Sprintf("unsupported(%d)", uint8(c))
}

// IndexPackage is a decoded index package. Filenames keep catalog order and
// are not deduplicated.
type IndexPackage struct {
	Version     Version
	Cipher      Cipher
	KeySelector uint8

	// DeclaredLength is the payload length stored in the header. It is
	// informational and may differ from the bytes actually present.
	DeclaredLength uint32

	Filenames []string
}
