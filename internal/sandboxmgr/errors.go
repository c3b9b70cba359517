package sandboxmgr

import (
	"errors"
	"fmt"

	"github.com/forgekit/agentcore/pkg/models"
)

// Sentinel causes, matched with errors.Is by callers that need to branch on
// cause rather than inspect a Kind.
var (
	ErrIllegalTransition = errors.New("sandboxmgr: event is not legal from the current state")
	ErrRetryCapExceeded  = errors.New("sandboxmgr: retry count exceeds maxSandboxRetries")
	ErrNotFound          = errors.New("sandboxmgr: no sandbox record for project")
	ErrNoBackgroundJob   = errors.New("sandboxmgr: no background handle for purpose")
)

const kindStateConflict = models.KindStateConflict

// Error wraps a Sandbox Manager failure with the shared error taxonomy.
type Error struct {
	Kind  models.ErrorKind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandboxmgr: %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func wrapErr(op string, kind models.ErrorKind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}
