package errors

import (
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

var (
	ErrNoCandidates      = errors.New("no target peers available")
	ErrStoreCorruption   = errors.New("posting store corrupted")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrCancelled         = errors.New("selection cancelled")
	ErrInsufficientYield = errors.New("too few postings selected")
	ErrIllegalTransition = errors.New("illegal chunk status transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrQueueClosed       = errors.New("transfer queue closed")
)

// CorruptionError reports an unreadable term group. Only the named term is
// affected; callers drop it and carry on.
type CorruptionError struct {
	TermHash ring.Hash
	Err      error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s: term %s: %v", ErrStoreCorruption.Error(), e.TermHash, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrStoreCorruption
}

func Corruption(termHash ring.Hash, cause error) *CorruptionError {
	return &CorruptionError{TermHash: termHash, Err: cause}
}

// AsCorruption extracts the CorruptionError from err, if any.
func AsCorruption(err error) (*CorruptionError, bool) {
	var ce *CorruptionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Is and As are re-exported so callers need only one errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
