package updater

// Code classifies a self-update failure.
type Code string

const (
	CodeBusy           Code = "UPDATE_BUSY"
	CodeCheckFailed    Code = "CHECK_FAILED"
	CodeNoRelease      Code = "NO_RELEASE"
	CodeUpToDate       Code = "UP_TO_DATE"
	CodeInstallFailed  Code = "INSTALL_FAILED"
	CodeBackupFailed   Code = "BACKUP_FAILED"
	CodeRollbackFailed Code = "ROLLBACK_FAILED"
	CodeNoBackup       Code = "NO_BACKUP"
	CodeDisabled       Code = "UPDATES_DISABLED"
)

// Error is a failed update step. Op is the service method that failed.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = "updater." + e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func fail(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, Cause: cause}
}
