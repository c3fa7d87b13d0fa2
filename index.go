package tfopkg

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/untfo/tfopkg/internal/cbc"
	"github.com/untfo/tfopkg/keys"
)

// IndexExt is the extension shipped index packages carry.
const IndexExt = ".pkg"

// ReadIndexPackage decodes an index package and its filename catalog from r.
//
// name is the package's own filename and is mixed into the catalog key.
// table supplies the key material; the header's key selector picks slot
// selector/2. The rest of r after the header is read as ciphertext.
//
// Unsupported versions and ciphers are rejected before anything else is read.
func ReadIndexPackage(r io.Reader, name string, table keys.KeyTable, opts ...Option) (*IndexPackage, error) {
	cfg := newConfig(opts)
	log := cfg.log().With("package", name)

	if !strings.EqualFold(filepath.Ext(name), IndexExt) {
		log.Warn("index package name has unexpected extension", "want", IndexExt)
	}

	var hdr [IndexHeaderSize]byte
	if err := readFull(r, hdr[:2], "version"); err != nil {
		return nil, err
	}
	version := Version(binary.LittleEndian.Uint16(hdr[0:2]))
	if !version.Supported() {
		return nil, &VersionError{Code: uint16(version)}
	}

	if err := readFull(r, hdr[2:3], "cipher"); err != nil {
		return nil, err
	}
	cipher := Cipher(hdr[2])
	if !cipher.Supported() {
		return nil, &AlgorithmError{Code: uint8(cipher)}
	}

	if err := readFull(r, hdr[3:], "header"); err != nil {
		return nil, err
	}
	selector := hdr[3]
	declared := binary.LittleEndian.Uint32(hdr[4:8])
	if selector >= MaxKnownSelector {
		log.Warn("key selector outside known range", "selector", selector)
	}

	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if uint64(len(blob)) != uint64(declared) {
		log.Debug("catalog length differs from header", "declared", declared, "actual", len(blob))
	}

	material, err := table.Lookup(selector)
	if err != nil {
		return nil, err
	}
	key := keys.IndexKey(selector, material, name)

	plain, err := cbc.DecryptPadded(key[:], blob)
	if err != nil {
		return nil, cipherError("decrypt catalog", err)
	}
	if !utf8.Valid(plain) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCatalog, name)
	}

	filenames := strings.Split(string(plain), "\r\n")
	log.Debug("decoded index package", "files", len(filenames), "selector", selector)

	return &IndexPackage{
		Version:        version,
		Cipher:         cipher,
		KeySelector:    selector,
		DeclaredLength: declared,
		Filenames:      filenames,
	}, nil
}
