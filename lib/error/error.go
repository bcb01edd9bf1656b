/*package error contains meshsync's error taxonomy and the functions used to
report fatal errors.

Library code returns errors which wrap one of the sentinel values below, so
callers can test for them with errors.Is. Programs escalate every error they
receive through External or Internal. Neither function returns.
*/
package error

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"
)

var (
	// ErrShapeMismatch is returned when a flat buffer's length disagrees with
	// the shape of the field it is being read into.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrIndexOutOfRange is returned by bounds-checked field accesses and by
	// lookups of unknown field tags.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrPlanBufferMismatch is returned when an exchange buffer does not have
	// the length implied by its distribution plan and width.
	ErrPlanBufferMismatch = errors.New("plan/buffer mismatch")
	// ErrOwnerConsistency is returned when a synchronized field disagrees
	// with the ownership table it was checked against.
	ErrOwnerConsistency = errors.New("owner consistency violation")
)

// exit is swapped out by tests.
var exit = os.Exit

// External reports an error and kills the program. It should be used when an
// error is something a user could reasonably be expected to fix through
// changes in arguments/configuration/input files. It has the same signature as
// the standard fmt.*printf() functions, apart from the logger.
func External(log *zap.Logger, format string, a ...interface{}) {
	if log == nil {
		log = zap.NewNop()
	}
	msg := fmt.Sprintf(format, a...)
	log.Error("meshsync exited early", zap.String("error", msg))
	fmt.Fprintf(os.Stderr, "meshsync exited early with the following error:\n%s\n", msg)
	_ = log.Sync()
	exit(1)
}

// Internal reports an error along with a stack trace and kills the program.
// It should be used when the error requires a code dive to fix.
func Internal(log *zap.Logger, format string, a ...interface{}) {
	if log == nil {
		log = zap.NewNop()
	}
	msg := fmt.Sprintf(format, a...)
	log.Error("meshsync exited early", zap.String("error", msg),
		zap.ByteString("stack", debug.Stack()))
	fmt.Fprintf(os.Stderr, "meshsync exited early with the following error:\n%s\n\n", msg)
	debug.PrintStack()
	_ = log.Sync()
	exit(1)
}

// AssertionError is the value Check panics with.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return "assertion failed: " + e.Msg }

// Check panics with an *AssertionError if cond is false. It is for conditions
// that can only fail because of a programming error, like a distribution plan
// whose send and receive sides disagree.
func Check(cond bool, format string, a ...interface{}) {
	if cond {
		return
	}
	panic(&AssertionError{fmt.Sprintf(format, a...)})
}
