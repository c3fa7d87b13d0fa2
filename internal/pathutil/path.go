// Package pathutil normalises entry names stored in data packages.
//
// Entry names are written by Windows tooling and may use either separator.
package pathutil

import "strings"

// Slash converts backslashes to forward slashes and drops leading separators
// so the result can be used as an fs.FS path.
func Slash(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimLeft(name, "/")
}

// Base returns the last element of name, splitting on either separator.
// If name is empty, it returns "".
func Base(name string) string {
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// DirPrefix converts a directory name to its prefix form.
// For "." or "", it returns "" (empty prefix matches all).
func DirPrefix(name string) string {
	if name == "." || name == "" {
		return ""
	}
	return strings.TrimSuffix(Slash(name), "/") + "/"
}
