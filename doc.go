// Package tfopkg reads the encrypted two-tier package format used by the game
// client's asset archives.
//
// Packages come in two kinds:
//   - Index packages: a small header and one AES-CBC encrypted, PKCS#7 padded
//     catalog of CRLF separated filenames
//   - Data packages: a 32-character hash, an encrypted 16-byte header and one
//     encrypted 288-byte record per file, followed by the file payloads
//
// Keys are derived per package from caller-supplied secrets (see the keys
// subpackage). A wrong secret is reported as [ErrInvalidHeaderKey] for data
// packages; unsupported index variants are reported as [ErrInvalidVersion] or
// [ErrInvalidAlgorithm] and are never decoded on a best-effort basis.
//
// [Archive] pairs a decoded data package with a [ByteSource] to read and
// decrypt payloads. It implements fs.FS along with ReadFileFS, ReadDirFS and
// StatFS.
package tfopkg
