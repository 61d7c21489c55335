// Package paths provides decrypted-path helpers shared by the repofiles
// service and the local-filesystem adapters: joining/splitting path
// segments and resolving name collisions.
package paths

import ("fmt"
	"strings")

// Join appends name as a new segment under parent ("/" for the repo
// root), matching path-joining convention of always
// using "/" regardless of OS (these are repo-relative decrypted paths,
// never local filesystem paths).
func Join(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return strings.TrimRight(parent, "/") + "/" + name
}

// Split returns (parentPath, name) for a decrypted path. Split("/") is
// ("/", "").
func Split(p string) (string, string) {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/", ""
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/", p[idx+1:]
	}
	return p[:idx], p[idx+1:]
}

// splitStemExt splits name into (stem, ext) at the last dot. A
// leading-dot dotfile (".bashrc") has no extension: the
// whole name is the stem.
func splitStemExt(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx:]
}

// UnusedName finds an available name by appending " (k)" before the
// extension: given the set of names already
// taken in the destination parent (existing listing entries plus names
// reserved by in-progress uploads, collected by the caller), find the
// first of "name", "name (1)", "name (2)", … that is not in taken.
//
// Ties are broken deterministically by trying k in increasing order, so
// two concurrent callers racing against the same `taken` snapshot always
// agree on which k is "next" for a given snapshot.
func UnusedName(taken map[string]bool, name string) string {
	if !taken[name] {
		return name
	}
	stem, ext := splitStemExt(name)
	for k := 1; ; k++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, k, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}
