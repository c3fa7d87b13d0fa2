package tfopkg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/untfo/tfopkg/internal/cbc"
	"github.com/untfo/tfopkg/keys"
)

// Record layout after decryption.
const (
	entrySeekOff          = 261
	entrySizeEncryptedOff = 269
	entrySizeOff          = 277
	entryFlagsOff         = 285
	entryEncryptedOff     = 286
)

// ReadDataPackage decodes a data package header and its file records from r.
//
// name is the package's own filename (for example "data000.pkg"); it is only
// used to derive the header key. r must be positioned at the start of the
// package. On success r is positioned at the first payload byte.
//
// No partial result is returned: any short read, wrong key or malformed
// record aborts the decode.
func ReadDataPackage(r io.Reader, name string, secrets Secrets, opts ...Option) (*DataPackage, error) {
	cfg := newConfig(opts)

	var hashField [HashFieldSize]byte
	if err := readFull(r, hashField[:], "hash"); err != nil {
		return nil, err
	}
	if !utf8.Valid(hashField[:HashSize]) {
		return nil, fmt.Errorf("%w: % x", ErrInvalidHash, hashField[:HashSize])
	}

	headerKey := keys.DataKey(secrets.Header, name)

	var block [HeaderBlockSize]byte
	if err := readFull(r, block[:], "header"); err != nil {
		return nil, err
	}
	plain, err := cbc.Decrypt(headerKey[:], block[:])
	if err != nil {
		return nil, cipherError("decrypt header", err)
	}
	payload := plain[:headerPayloadSize]
	if binary.LittleEndian.Uint32(payload[0:4]) != 0 {
		cfg.log().Debug("header check failed", "package", name, "prefix", fmt.Sprintf("% x", payload[0:4]))
		return nil, fmt.Errorf("%w: %s", ErrInvalidHeaderKey, name)
	}

	hdr := PackageHeader{
		Hash:      string(hashField[:HashSize]),
		FileCount: binary.LittleEndian.Uint32(payload[4:8]),
	}
	copy(hdr.Reserved[:], payload[8:12])

	// FileCount is untrusted until the records are read, so grow as we go.
	entries := make([]FileEntry, 0, min(hdr.FileCount, 4096))
	var rec [EntryBlockSize]byte
	for i := range hdr.FileCount {
		if err := readFull(r, rec[:], fmt.Sprintf("entry %d", i)); err != nil {
			return nil, err
		}
		e, err := decodeEntry(headerKey, rec[:])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}

	cfg.log().Debug("decoded data package",
		"package", name,
		"files", hdr.FileCount,
		"header_size", hdr.TotalHeaderSize())

	return &DataPackage{Header: hdr, Entries: entries}, nil
}

// decodeEntry decrypts one 288-byte record.
func decodeEntry(key keys.Key, rec []byte) (FileEntry, error) {
	plain, err := cbc.Decrypt(key[:], rec)
	if err != nil {
		return FileEntry{}, cipherError("decrypt entry", err)
	}
	plain = plain[:entryPayloadSize]

	name := plain[:MaxNameSize]
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}
	if !utf8.Valid(name) {
		return FileEntry{}, fmt.Errorf("%w: % x", ErrInvalidName, name)
	}

	return FileEntry{
		Name:          string(name),
		Seek:          binary.LittleEndian.Uint64(plain[entrySeekOff:]),
		SizeEncrypted: binary.LittleEndian.Uint64(plain[entrySizeEncryptedOff:]),
		Size:          binary.LittleEndian.Uint64(plain[entrySizeOff:]),
		Flags:         plain[entryFlagsOff],
		Encrypted:     plain[entryEncryptedOff] != 0,
	}, nil
}

// readFull reads exactly len(buf) bytes, tagging short reads with ErrTruncated.
func readFull(r io.Reader, buf []byte, what string) error {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read %s: %w (%d of %d bytes): %w", what, ErrTruncated, n, len(buf), err)
	}
	return fmt.Errorf("read %s: %w", what, err)
}
