package coordinator

import "errors"

var (
	ErrRunnerUnavailable = errors.New("runner unavailable")
	ErrSendFailed        = errors.New("failed to send to runner")
	ErrMailboxFull       = errors.New("session mailbox full")
	ErrSessionClosed     = errors.New("session closed")
	ErrServerStopped     = errors.New("server stopped")
)
