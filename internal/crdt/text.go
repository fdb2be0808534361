package crdt

// Text is a collaborative text container: an ordered sequence of runes
// that supports minimal, cursor-based edits so concurrent cursors stay
// stable.
type Text struct {
	seq *Sequence[rune]
}

// NewText creates an empty collaborative text container.
func NewText(clk clockSource, replica string) *Text {
	return &Text{seq: NewSequence[rune](clk, replica)}
}

// NewTextFromSnapshot reconstructs a Text from a prior Snapshot, used when
// decoding a bulk update that created a brand new text field.
func NewTextFromSnapshot(clk clockSource, replica string, snap []ItemDTO[rune]) *Text {
	t := NewText(clk, replica)
	t.seq.Merge(nil, snap)
	return t
}

// String returns the current visible text.
func (t *Text) String() string {
	return string(t.seq.ToSlice())
}

// InsertAt inserts s before the given rune index.
func (t *Text) InsertAt(txn *Txn, idx int, s string) {
	for i, r := range []rune(s) {
		t.seq.InsertAfterVisible(txn, idx+i-1, r)
	}
}

// DeleteAt deletes n runes starting at idx.
func (t *Text) DeleteAt(txn *Txn, idx, n int) {
	for i := 0; i < n; i++ {
		t.seq.DeleteVisible(txn, idx)
	}
}

// Len returns the number of visible runes.
func (t *Text) Len() int { return t.seq.VisibleLen() }

// Snapshot exposes the backing sequence for encode_state_as_update.
func (t *Text) Snapshot() []ItemDTO[rune] { return t.seq.Snapshot() }

// Merge applies a remote snapshot (apply_update on a text container).
func (t *Text) Merge(txn *Txn, snap []ItemDTO[rune]) { t.seq.Merge(txn, snap) }

// ApplyTextDiff mutates t in place so its final content equals target,
// performing a minimal sequence of inserts/deletes: advance over runs
// that already match, insert runs that are only in target, delete runs
// that are only in current.
func ApplyTextDiff(txn *Txn, t *Text, target string) {
	current := t.seq.ToSlice()
	want := []rune(target)
	if string(current) == string(want) {
		return
	}

	ops := diffRunes(current, want)
	cursor := 0
	for _, op := range ops {
		switch op.kind {
		case diffEqual:
			cursor += op.n
		case diffInsert:
			for i := 0; i < op.n; i++ {
				t.seq.InsertAfterVisible(txn, cursor-1, want[op.from+i])
				cursor++
			}
		case diffDelete:
			for i := 0; i < op.n; i++ {
				t.seq.DeleteVisible(txn, cursor)
			}
		}
	}
}

type diffKind int

const (
	diffEqual diffKind = iota
	diffInsert
	diffDelete
)

type diffOp struct {
	kind diffKind
	from int // start index into the "want"/target slice, for inserts
	n    int
}

// diffRunes computes a classic LCS-based char-level edit script between
// current and want: the minimal set of equal/insert/delete runs needed to
// transform current into want, preserving the longest common subsequence
// so unrelated prefixes/suffixes are never touched.
func diffRunes(current, want []rune) []diffOp {
	n, m := len(current), len(want)
	// lcs[i][j] = length of LCS of current[i:] and want[j:]
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if current[i] == want[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []diffOp
	push := func(kind diffKind, from int) {
		if len(ops) > 0 && ops[len(ops)-1].kind == kind {
			ops[len(ops)-1].n++
			return
		}
		ops = append(ops, diffOp{kind: kind, from: from, n: 1})
	}

	i, j := 0, 0
	for i < n && j < m {
		if current[i] == want[j] {
			push(diffEqual, j)
			i++
			j++
		} else if lcs[i+1][j] >= lcs[i][j+1] {
			push(diffDelete, j)
			i++
		} else {
			push(diffInsert, j)
			j++
		}
	}
	for i < n {
		push(diffDelete, j)
		i++
	}
	for j < m {
		push(diffInsert, j)
		j++
	}
	return ops
}
