package core

// Exit-code conventions for supervised scripts. ReturnCodeConfigError is a
// synthetic code the agent reports when a task cannot be launched at all.
// ReturnCodeTimeout is an application convention for externally requested
// timeouts; the operating system never produces it on its own.
const (
	ReturnCodeKilled      = -9
	ReturnCodeConfigError = 99
	ReturnCodeTimeout     = 420
)

// ClassifyExit maps a child process return code to a terminal run status.
// This table is the single place the exit-code contract lives.
func ClassifyExit(code int) RunStatus {
	switch code {
	case 0:
		return RunStatusSuccess
	case ReturnCodeKilled:
		return RunStatusKilled
	case ReturnCodeTimeout:
		return RunStatusTimeout
	default:
		return RunStatusFail
	}
}

// ExitCodeFor maps a terminal run status to the agent's own process exit
// code, so a CLI invocation mirrors the classified result.
func ExitCodeFor(status RunStatus) int {
	switch status {
	case RunStatusSuccess:
		return 0
	case RunStatusKilled:
		return 2
	case RunStatusTimeout:
		return 3
	default:
		return 1
	}
}
