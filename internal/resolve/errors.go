package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/termvc/internal/stamp"
)

// ErrorCode classifies resolution errors.
type ErrorCode string

// ErrCodeContradiction is reported when the contradiction manager refuses
// to choose between tied candidates.
const ErrCodeContradiction ErrorCode = "CONTRADICTION"

// ContradictionError carries the tied candidate stamps of one component.
type ContradictionError struct {
	Code       ErrorCode
	Nid        int
	Candidates []stamp.ID
	Err        error
}

func (e *ContradictionError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, id := range e.Candidates {
		ids[i] = fmt.Sprintf("%d", id)
	}
	msg := fmt.Sprintf("[%s] component %d: %d candidates [%s]", e.Code, e.Nid, len(e.Candidates), strings.Join(ids, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ContradictionError) Unwrap() error {
	return e.Err
}

// IsContradictionError reports whether err is or wraps a *ContradictionError.
func IsContradictionError(err error) bool {
	var ce *ContradictionError
	return errors.As(err, &ce)
}
