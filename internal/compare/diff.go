package compare

import (
	"path/filepath"
	"sort"
	"strings"
)

// Diff compares a reference run (left) with a challenger (right).
type Diff struct {
	Name  string
	Left  *Run
	Right *Run
	// Comparable lists the keys present in both runs.
	Comparable []string
	LeftOnly   []string
	RightOnly  []string
}

// Row pairs the statistics of both runs at one number of users.
type Row struct {
	CVUs  int
	Left  Point
	Right Point
}

// NewDiff intersects the keys of both runs.
func NewDiff(left, right *Run) *Diff {
	d := &Diff{Name: ReadableDiffName(left.Path, right.Path), Left: left, Right: right}
	for _, k := range left.Keys() {
		if _, ok := right.Stats[k]; ok {
			d.Comparable = append(d.Comparable, k)
		} else {
			d.LeftOnly = append(d.LeftOnly, k)
		}
	}
	for _, k := range right.Keys() {
		if _, ok := left.Stats[k]; !ok {
			d.RightOnly = append(d.RightOnly, k)
		}
	}
	return d
}

// Rows pairs the cycles of key run with the same number of users in both
// runs, ordered by users.
func (d *Diff) Rows(key string) []Row {
	var rows []Row
	for _, l := range d.Left.Stats[key] {
		if r, ok := d.Right.At(key, l.CVUs); ok {
			rows = append(rows, Row{CVUs: l.CVUs, Left: l, Right: r})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CVUs < rows[j].CVUs })
	return rows
}

// ReadableDiffName names a diff report from the two report paths: the common
// prefix is kept once and the differing suffixes are spliced around "_vs_".
// Digits and separators before the first difference belong to the suffix so
// that numbers stay whole.
func ReadableDiffName(a, b string) string {
	a, b = filepath.Base(a), filepath.Base(b)
	if a == b {
		return "diff_" + a + "_vs_idem"
	}

	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	if i == n && n > 0 {
		// one name is a prefix of the other
		i = n - 1
	}
	cut := i
	for j := i; j > 0; j-- {
		cut = j
		if !strings.ContainsRune("_-0123456789", rune(a[j])) {
			cut = j + 1
			break
		}
	}

	r := b[:cut] + "_" + b[cut:] + "_vs_" + a[cut:]
	r = strings.TrimPrefix(r, "test_")
	r = strings.ReplaceAll(r, "-_", "_")
	r = strings.ReplaceAll(r, "_-", "_")
	r = strings.ReplaceAll(r, "__", "_")
	return "diff_" + r
}
