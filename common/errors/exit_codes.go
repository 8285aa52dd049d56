package errors

import "fmt"

type ExitCode int

const (
	// Anything not classified below, including bad command line usage
	GenericFailureExitCode ExitCode = 1

	// Configuration could not be read or parsed
	ConfigFailureExitCode ExitCode = 70

	// A job definition or concurrency_limits attribute was rejected at submit time
	SubmitFailureExitCode ExitCode = 80

	// Jobs did not all reach a terminal state before the deadline
	TimeoutExitCode ExitCode = 90

	// More jobs ran concurrently than a concurrency limit allows
	LimitExceededExitCode ExitCode = 100

	// The event journal could not be opened or queried
	JournalFailureExitCode ExitCode = 110
)

func (c ExitCode) String() string {
	switch c {
	case 0:
		return "ok"
	case GenericFailureExitCode:
		return "failure"
	case ConfigFailureExitCode:
		return "config failure"
	case SubmitFailureExitCode:
		return "submit failure"
	case TimeoutExitCode:
		return "timeout"
	case LimitExceededExitCode:
		return "limit exceeded"
	case JournalFailureExitCode:
		return "journal failure"
	default:
		return fmt.Sprintf("exit code %d", int(c))
	}
}
