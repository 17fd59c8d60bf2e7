package index

// GroupIterator walks term groups in ring order. Next returns io.EOF once
// the sequence is exhausted. A corrupted group is reported as an error that
// carries the group's term hash; iteration may continue past it.
type GroupIterator interface {
	Next() (TermGroup, error)
	Close() error
}
