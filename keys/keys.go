// Package keys derives the AES-128 keys used by index and data packages.
//
// Both derivations are pure functions of their arguments. Nothing here holds
// secrets beyond the duration of a call.
package keys

import (
	"bufio"
	"crypto/md5" //nolint:gosec // MD5 is mandated by the archive format
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Size is the length of every derived key and every key-table slot.
const Size = 16

// Key is a 16-byte AES-128 key or key-table value.
type Key [Size]byte

// indexTag prefixes every index key digest.
var indexTag = [4]byte{2, 0, 0, 0}

// ErrKeySelector is returned when a key selector points past the end of a KeyTable.
var ErrKeySelector = errors.New("tfopkg: key selector out of range")

// DataKey derives the key for a data package header or payload.
//
// The key is the first 16 characters of the lowercase hex MD5 of secret
// followed by name. Only those ASCII characters are used, not the raw digest.
func DataKey(secret, name string) Key {
	h := md5.New() //nolint:gosec // format mandated
	_, _ = io.WriteString(h, secret)
	_, _ = io.WriteString(h, name)

	var sum [md5.Size]byte
	var text [md5.Size * 2]byte
	hex.Encode(text[:], h.Sum(sum[:0]))

	var k Key
	copy(k[:], text[:Size])
	return k
}

// IndexKey derives the key for an index package catalog.
//
// Odd selectors hash material before name, even selectors hash name before
// material. Only the parity of selector matters here.
func IndexKey(selector uint8, material Key, name string) Key {
	h := md5.New() //nolint:gosec // format mandated
	_, _ = h.Write(indexTag[:])
	if selector&1 != 0 {
		_, _ = h.Write(material[:])
		_, _ = io.WriteString(h, name)
	} else {
		_, _ = io.WriteString(h, name)
		_, _ = h.Write(material[:])
	}

	var k Key
	h.Sum(k[:0])
	return k
}

// KeyTable holds the externally supplied index key material.
// Two adjacent selectors share a slot.
type KeyTable []Key

// Lookup returns the slot for selector, which is selector/2.
func (t KeyTable) Lookup(selector uint8) (Key, error) {
	slot := int(selector) / 2
	if slot >= len(t) {
		return Key{}, fmt.Errorf("%w: selector %d needs slot %d, table has %d", ErrKeySelector, selector, slot, len(t))
	}
	return t[slot], nil
}

// ParseKeyTable reads one hex-encoded 16-byte key per line.
// Blank lines and lines starting with '#' are skipped.
func ParseKeyTable(r io.Reader) (KeyTable, error) {
	var table KeyTable
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, err := ParseKey(text)
		if err != nil {
			return nil, fmt.Errorf("key table line %d: %w", line, err)
		}
		table = append(table, k)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read key table: %w", err)
	}
	return table, nil
}

// ParseKey decodes a 32-digit hex string into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != Size {
		return k, fmt.Errorf("decode key: got %d bytes, want %d", len(raw), Size)
	}
	copy(k[:], raw)
	return k, nil
}

// String returns the lowercase hex form of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}
