package tfopkg

import (
	"errors"
	"fmt"

	"github.com/untfo/tfopkg/internal/cbc"
	"github.com/untfo/tfopkg/keys"
)

// Sentinel errors for package decoding.
var (
	// ErrInvalidHash is returned when the data package hash field is not valid text.
	// The input is corrupt or does not start at a package boundary.
	ErrInvalidHash = errors.New("tfopkg: invalid package hash")

	// ErrInvalidHeaderKey is returned when the decrypted data package header
	// fails its zero-prefix check. The header secret or filename is wrong,
	// or the file is not a data package.
	ErrInvalidHeaderKey = errors.New("tfopkg: invalid header key")

	// ErrInvalidName is returned when a decrypted entry name is not valid text.
	ErrInvalidName = errors.New("tfopkg: invalid entry name")

	// ErrInvalidVersion is returned for index packages with an unsupported version code.
	ErrInvalidVersion = errors.New("tfopkg: unsupported index version")

	// ErrInvalidAlgorithm is returned for index packages with an unsupported cipher code.
	ErrInvalidAlgorithm = errors.New("tfopkg: unsupported index cipher")

	// ErrInvalidPadding is returned when ciphertext is misaligned or its padding
	// is malformed after decryption, usually because of wrong key material.
	ErrInvalidPadding = errors.New("tfopkg: invalid ciphertext padding")

	// ErrInvalidCatalog is returned when a decrypted index catalog is not valid text.
	ErrInvalidCatalog = errors.New("tfopkg: invalid index catalog")

	// ErrTruncated is returned when the input ends before a complete structure was read.
	// The underlying io error is wrapped alongside it.
	ErrTruncated = errors.New("tfopkg: truncated input")

	// ErrCipher is returned when the block cipher rejects its configuration.
	ErrCipher = errors.New("tfopkg: cipher configuration")

	// ErrKeySelector is returned when an index key selector has no slot in the key table.
	ErrKeySelector = keys.ErrKeySelector

	// ErrSizeOverflow is returned when offsets or sizes exceed supported limits.
	ErrSizeOverflow = errors.New("tfopkg: size overflow")

	// ErrSizeMismatch is returned when an entry's logical size exceeds its stored size.
	ErrSizeMismatch = errors.New("tfopkg: entry size exceeds stored size")

	// ErrOutOfBounds is returned when an entry payload lies outside the source.
	ErrOutOfBounds = errors.New("tfopkg: entry payload out of bounds")

	// ErrUnsafePath is returned when an entry name would escape the extraction root.
	ErrUnsafePath = errors.New("tfopkg: unsafe entry path")

	// ErrPathConflict is returned when one entry is both a file and the parent
	// directory of another entry.
	ErrPathConflict = errors.New("tfopkg: entry path conflict")
)

// VersionError reports an index package version code other than [VersionTFO].
type VersionError struct {
	Code uint16
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%v: code %d", ErrInvalidVersion, e.Code)
}

// Unwrap returns [ErrInvalidVersion].
func (e *VersionError) Unwrap() error { return ErrInvalidVersion }

// AlgorithmError reports an index package cipher code other than [CipherAES].
type AlgorithmError struct {
	Code uint8
}

func (e *AlgorithmError) Error() string {
	return fmt.Sprintf("%v: code %d", ErrInvalidAlgorithm, e.Code)
}

// Unwrap returns [ErrInvalidAlgorithm].
func (e *AlgorithmError) Unwrap() error { return ErrInvalidAlgorithm }

// cipherError maps errors from internal/cbc onto the package taxonomy.
func cipherError(op string, err error) error {
	switch {
	case errors.Is(err, cbc.ErrUnaligned), errors.Is(err, cbc.ErrPadding):
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidPadding, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrCipher, err)
	}
}
