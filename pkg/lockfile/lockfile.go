package lockfile

import (
	"fmt"
	"sort"
)

// Expected is what the manifest requires of a locked platform.
type Expected struct {
	ContentHash string
	Direct      []Ref
}

// Validate checks that the manifest lines up with what we
// expect from the lockfile and vice versa.
func (l *Lock) Validate(expected map[string]Expected) error {
	if l.LockfileVersion != Version {
		return fmt.Errorf("%w: unsupported lockfile version %d", ErrLockMismatch, l.LockfileVersion)
	}
	for _, name := range sortedKeys(expected) {
		want := expected[name]
		got, ok := l.Platforms[name]
		if !ok {
			return fmt.Errorf("%w: platform not found in lock: %s", ErrLockMismatch, name)
		}
		if got.ContentHash != want.ContentHash {
			return fmt.Errorf("%w: %s: content hash has changed (%s != %s)", ErrLockMismatch, name, got.ContentHash, want.ContentHash)
		}

		// check that the manifest packages are all in the lockfile
		direct := map[Ref]bool{}
		for _, p := range got.Packages {
			if p.Direct {
				direct[p.Ref()] = true
			}
		}
		for _, r := range want.Direct {
			if !direct[r] {
				return fmt.Errorf("%w: %s: package not found in lock: %s", ErrLockMismatch, name, r)
			}
			delete(direct, r)
		}
		// now we do the reverse
		for _, p := range got.Packages {
			if p.Direct && direct[p.Ref()] {
				return fmt.Errorf("%w: %s: package found in lock, but not manifest: %s", ErrLockMismatch, name, p.Ref())
			}
		}
	}
	for _, name := range l.SortedKeys() {
		if _, ok := expected[name]; !ok {
			return fmt.Errorf("%w: platform found in lock, but not manifest: %s", ErrLockMismatch, name)
		}
	}
	return nil
}

// SortedKeys returns platform names
// sorted alphabetically.
func (l *Lock) SortedKeys() []string {
	return sortedKeys(l.Platforms)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortPackages orders packages by type and then name, which is
// the order they are written in.
func SortPackages(pkgs []Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		if pkgs[i].Type != pkgs[j].Type {
			return pkgs[i].Type < pkgs[j].Type
		}
		return pkgs[i].Name < pkgs[j].Name
	})
}
