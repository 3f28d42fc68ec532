package btree

import (
	"fmt"
	"io"
	"strings"
	"unsafe"
)

// Validate walks the whole tree and checks its structural invariants: key
// ordering within every node, separator bounds over children, minimum fill
// everywhere but the root, and that the reachable pair count matches Len.
// It returns an error wrapping ErrInvariant describing the first violation.
func (m *Map[K, V]) Validate() error {
	if m.root == nil {
		return fmt.Errorf("%w: nil root", ErrInvariant)
	}
	n, err := m.check(m.root, 0, nil, nil)
	if err != nil {
		return err
	}
	if n != m.count {
		return fmt.Errorf("%w: %d reachable pairs but count is %d", ErrInvariant, n, m.count)
	}
	return nil
}

// check validates the subtree at p, whose keys must all lie in (lo, hi]; a
// nil bound is unbounded. It returns the number of pairs stored beneath p.
func (m *Map[K, V]) check(p unsafe.Pointer, level int, lo, hi *K) (int, error) {
	minFill := m.fanout / 2

	if level == m.depth {
		lf := (*leaf[K, V])(p)
		n := int(lf.count)
		if m.depth > 0 && n < minFill {
			return 0, fmt.Errorf("%w: leaf holds %d keys, minimum fill is %d", ErrInvariant, n, minFill)
		}
		if err := m.checkKeys(lf.keys[:n], lo, hi); err != nil {
			return 0, err
		}
		return n, nil
	}

	b := (*branch[K, V])(p)
	n := int(b.count)
	if level == 0 {
		if n < 1 {
			return 0, fmt.Errorf("%w: root branch is empty", ErrInvariant)
		}
	} else if n < minFill {
		return 0, fmt.Errorf("%w: branch holds %d keys, minimum fill is %d", ErrInvariant, n, minFill)
	}
	if err := m.checkKeys(b.keys[:n], lo, hi); err != nil {
		return 0, err
	}

	total := n
	for i := 0; i <= n; i++ {
		clo, chi := lo, hi
		if i > 0 {
			clo = &b.keys[i-1]
		}
		if i < n {
			chi = &b.keys[i]
		}
		sub, err := m.check(b.children[i], level+1, clo, chi)
		if err != nil {
			return 0, err
		}
		total += sub
	}
	return total, nil
}

// checkKeys asserts that keys are strictly ascending and lie in (lo, hi].
// The lower bound is strict; the upper bound admits equality with the
// separator.
func (m *Map[K, V]) checkKeys(keys []K, lo, hi *K) error {
	for i := range keys {
		if i > 0 && !m.less(keys[i-1], keys[i]) {
			return fmt.Errorf("%w: keys out of order at index %d", ErrInvariant, i)
		}
		if lo != nil && !m.less(*lo, keys[i]) {
			return fmt.Errorf("%w: key at index %d not above its left separator", ErrInvariant, i)
		}
		if hi != nil && m.less(*hi, keys[i]) {
			return fmt.Errorf("%w: key at index %d above its right separator", ErrInvariant, i)
		}
	}
	return nil
}

// Dump writes an indented structural dump of the tree: one line per node,
// keys with their values, children indented beneath their branch. The format
// is diagnostic only.
func (m *Map[K, V]) Dump(w io.Writer) error {
	return m.dump(w, m.root, 0)
}

func (m *Map[K, V]) dump(w io.Writer, p unsafe.Pointer, level int) error {
	indent := strings.Repeat("  ", level)

	if level == m.depth {
		lf := (*leaf[K, V])(p)
		if _, err := fmt.Fprintf(w, "%sleaf:", indent); err != nil {
			return err
		}
		for i := 0; i < int(lf.count); i++ {
			if _, err := fmt.Fprintf(w, " %v=%v", lf.keys[i], lf.vals[i]); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(w)
		return err
	}

	b := (*branch[K, V])(p)
	if _, err := fmt.Fprintf(w, "%sbranch:", indent); err != nil {
		return err
	}
	for i := 0; i < int(b.count); i++ {
		if _, err := fmt.Fprintf(w, " %v=%v", b.keys[i], b.vals[i]); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	for i := 0; i <= int(b.count); i++ {
		if err := m.dump(w, b.children[i], level+1); err != nil {
			return err
		}
	}
	return nil
}
