package account

import "errors"

// Kind classifies domain failures so the transport layer can pick a status.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindDuplicate
	KindNotVerified
	KindCodeMismatch
	KindInvalidPassword
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindNotVerified:
		return "not_verified"
	case KindCodeMismatch:
		return "code_mismatch"
	case KindInvalidPassword:
		return "invalid_password"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is a terminal domain failure. Code identifies the exact condition;
// two errors with the same Code match under errors.Is.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return "account: " + e.Msg }

// Is matches on Code so that wrapped or re-described errors still compare
// equal to the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrBuildingNotFound = &Error{Kind: KindNotFound, Code: "building_not_found", Msg: "building not found"}
	ErrCompanyNotFound  = &Error{Kind: KindNotFound, Code: "company_not_found", Msg: "company not found"}
	ErrUserNotFound     = &Error{Kind: KindNotFound, Code: "user_not_found", Msg: "user not found"}
	ErrDuplicateEmail   = &Error{Kind: KindDuplicate, Code: "duplicate_email", Msg: "email already registered"}
	ErrDuplicatePhone   = &Error{Kind: KindDuplicate, Code: "duplicate_phone_number", Msg: "phone number already registered"}
	ErrNotVerified      = &Error{Kind: KindNotVerified, Code: "not_verified_phone_number", Msg: "no verification pending for phone number"}
	ErrCodeMismatch     = &Error{Kind: KindCodeMismatch, Code: "verify_code_mismatch", Msg: "verification code does not match"}
	ErrInvalidPassword  = &Error{Kind: KindInvalidPassword, Code: "invalid_password", Msg: "invalid password"}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput, Code: "invalid_input", Msg: "invalid input"}
)

func invalidInput(msg string) error {
	return &Error{Kind: KindInvalidInput, Code: ErrInvalidInput.Code, Msg: msg}
}

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code carried by err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
