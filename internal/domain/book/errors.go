package book

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceGap  = errors.New("sequence gap")
	ErrNotSynced    = errors.New("book is not synced")
	ErrUnknownEvent = errors.New("unknown event kind")
	ErrUnknownSide  = errors.New("unknown side")
)

// SequenceGapError reports the sequence the book expected next and the one
// that arrived instead.
type SequenceGapError struct {
	Expected int64
	Got      int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap: expected %d, got %d", e.Expected, e.Got)
}

func (e *SequenceGapError) Unwrap() error {
	return ErrSequenceGap
}
