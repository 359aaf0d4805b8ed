package shared

// Error is a sentinel error carrying a stable machine-readable code.
type Error struct {
	code string
	msg  string
}

// NewError constructs a coded sentinel.
func NewError(code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Code() string { return e.code }

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = NewError("not_found", "not found")
	// ErrInvalidInput indicates a malformed identifier or payload.
	ErrInvalidInput = NewError("bad_request", "invalid input")
)
