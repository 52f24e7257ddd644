package storage

// Bound selects a position in a record family for range and lookup
// queries. The zero value is the absent bound. Explicit positions come
// from At; Latest resolves to the highest assigned position at query
// time, so two queries built with Latest can see different positions.
type Bound struct {
	position int64
	latest   bool
	set      bool
}

// At returns a bound fixed to an explicit position.
func At(position int64) Bound {
	return Bound{position: position, set: true}
}

// Latest returns a bound resolved to the highest assigned position at
// query time.
func Latest() Bound {
	return Bound{latest: true, set: true}
}

// IsAbsent reports whether the bound is unset.
func (b Bound) IsAbsent() bool { return !b.set }

// IsLatest reports whether the bound resolves at query time.
func (b Bound) IsLatest() bool { return b.latest }

// Position returns the explicit position for bounds created with At. It
// is 0 for absent and Latest bounds.
func (b Bound) Position() int64 {
	if b.latest {
		return 0
	}
	return b.position
}

// FieldFilter requires the payload field at Path to equal Value. Path is
// a dot-separated route from the payload root, such as "type" or
// "transfer.initiator". A filter list combines as a logical AND; only
// equality is expressible.
type FieldFilter struct {
	Path  string
	Value any
}
