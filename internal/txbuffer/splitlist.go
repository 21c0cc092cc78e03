package txbuffer

import "github.com/oracdc-io/oracdc/internal/redo"

// SplitBlock is one pending multi-block UNDO fragment. R2 is the
// fragment's companion redo record, present only for a HEAD fragment —
// MID and TAIL fragments carry the undo payload alone.
type SplitBlock struct {
	R1, R2 *redo.Record
	next   *SplitBlock
}

// SplitList is the per-transaction ordered list of pending fragments,
// kept sorted ascending by (scn, subScn) via insertion sort from the
// head. Ties keep insertion order.
type SplitList struct {
	head *SplitBlock
}

func less(a, b *redo.Record) bool {
	if a.Scn != b.Scn {
		return a.Scn < b.Scn
	}
	return a.SubScn < b.SubScn
}

// insert splices b into the list in ascending (scn, subScn) order,
// after any existing entries with an equal key.
func (l *SplitList) insert(b *SplitBlock) {
	if l.head == nil || less(b.R1, l.head.R1) {
		b.next = l.head
		l.head = b
		return
	}
	cur := l.head
	for cur.next != nil && !less(b.R1, cur.next.R1) {
		cur = cur.next
	}
	b.next = cur.next
	cur.next = b
}

// Insert adds a self-contained fragment (MID or TAIL).
func (l *SplitList) Insert(r1 *redo.Record) {
	l.insert(&SplitBlock{R1: r1})
}

// InsertHead adds a HEAD fragment together with its companion record.
func (l *SplitList) InsertHead(r1, r2 *redo.Record) {
	l.insert(&SplitBlock{R1: r1, R2: r2})
}

// Empty reports whether the list holds no pending fragments.
func (l *SplitList) Empty() bool { return l.head == nil }

// Group is a set of fragments sharing (slt, rci) ready to merge: the
// HEAD (with its companion), an optional MID, and the TAIL.
type Group struct {
	Head, Companion, Mid, Tail *redo.Record
}

// DrainGroups walks the list once, grouping adjacent fragments by
// identical (slt, rci) until either a complete HEAD+MID?+TAIL group is
// found or a conflicting role for the same (slt, rci) would duplicate a
// slot already filled — at which point the accumulated group is cut and
// a new one starts. The list is always left empty afterward.
func (l *SplitList) DrainGroups() []Group {
	var groups []Group
	var cur *Group
	var curSlt, curRci uint8
	flush := func() {
		if cur != nil {
			groups = append(groups, *cur)
			cur = nil
		}
	}
	newGroup := func(r *redo.Record) {
		cur = &Group{}
		curSlt, curRci = r.Slt, r.Rci
	}
	for b := l.head; b != nil; b = b.next {
		r := b.R1
		// The group's identifying (slt, rci) is tracked independently of
		// cur.Head: a MID or TAIL fragment can be the first one seen for
		// a group whose HEAD hasn't arrived yet, so cur.Head may still
		// be nil here.
		if cur != nil && (curSlt != r.Slt || curRci != r.Rci) {
			flush()
		}
		if cur == nil {
			newGroup(r)
		}
		switch {
		case r.IsMultiBlockHead():
			if cur.Head != nil {
				flush()
				newGroup(r)
			}
			cur.Head = r
			cur.Companion = b.R2
		case r.IsMultiBlockMid():
			if cur.Mid != nil {
				flush()
				newGroup(r)
			}
			cur.Mid = r
		case r.IsMultiBlockTail():
			if cur.Tail != nil {
				flush()
				newGroup(r)
			}
			cur.Tail = r
		}
		if cur.Head != nil && cur.Tail != nil {
			flush()
		}
	}
	flush()
	l.head = nil
	return groups
}
