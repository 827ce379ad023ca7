package mutex

import (
	"fmt"
	"os"
)

// abortExitCode is the exit status used when the package terminates the
// process. It matches the status of an unrecovered Go runtime fatal error.
const abortExitCode = 2

// abort terminates the process.
//
// It is reserved for states in which continuing would silently corrupt the
// state word. It cannot be intercepted with recover.
func abort(reason string) {
	fmt.Fprintf(os.Stderr, "fatal error: mutex: %s\n", reason)
	os.Exit(abortExitCode)
}
