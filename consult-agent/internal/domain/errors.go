package domain

import "errors"

// Error classes. Every sentinel below wraps exactly one of them so callers
// can branch on the class with errors.Is.
var (
	ErrTransport = errors.New("transport error")
	ErrConflict  = errors.New("conflict")
	ErrResource  = errors.New("resource error")
	ErrAuthority = errors.New("session no longer exists")
)

type classified struct {
	msg   string
	class error
}

func (e *classified) Error() string { return e.msg }
func (e *classified) Unwrap() error { return e.class }

func newError(class error, msg string) error {
	return &classified{msg: msg, class: class}
}

// Conflict errors: recoverable, local state unchanged.
var (
	ErrSessionActive     = newError(ErrConflict, "another session is already active")
	ErrAcceptInFlight    = newError(ErrConflict, "an accept is already in progress")
	ErrNoLongerAvailable = newError(ErrConflict, "request is no longer available")
	ErrUnknownRequest    = newError(ErrConflict, "request is not in the queue")
	ErrRequestPending    = newError(ErrConflict, "a request is already waiting for a provider")
	ErrNoPendingRequest  = newError(ErrConflict, "no request is waiting")
	ErrAlreadyJoined     = newError(ErrConflict, "media session already joined")
	ErrNoActiveSession   = newError(ErrConflict, "no active session")
	ErrWrongSessionKind  = newError(ErrConflict, "operation not supported for this session kind")
	ErrProviderBusy      = newError(ErrConflict, "provider is busy")
	ErrProviderOffline   = newError(ErrConflict, "provider is not available")
	ErrInsufficientFunds = newError(ErrConflict, "insufficient balance")
	ErrWrongRole         = newError(ErrConflict, "operation not allowed for this role")
	ErrEmptyMessage      = newError(ErrConflict, "message content is empty")
)

// Resource errors: fatal to the session being established.
var (
	ErrEngineUnavailable = newError(ErrResource, "media engine unavailable")
	ErrNotPrepared       = newError(ErrResource, "media engine not prepared")
	ErrTornDown          = newError(ErrResource, "media adapter already torn down")
	ErrJoinFailed        = newError(ErrResource, "media join failed")
)

// IsConflict reports whether err belongs to the conflict class.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsResource reports whether err belongs to the resource class.
func IsResource(err error) bool { return errors.Is(err, ErrResource) }

// IsAuthority reports whether err says the session is gone.
func IsAuthority(err error) bool { return errors.Is(err, ErrAuthority) }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }
