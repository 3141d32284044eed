package acceptance

import (
	"errors"
	"fmt"
)

// Code identifies why an accept request was refused.
type Code string

const (
	CodeAlreadyHasQuest    Code = "ALREADY_HAS_QUEST"
	CodeProfessionMismatch Code = "PROFESSION_MISMATCH"
	CodeQuestLimitReached  Code = "QUEST_LIMIT_REACHED"
	CodeInventoryFull      Code = "INVENTORY_FULL"
	CodePlayerLevelTooLow  Code = "PLAYER_LEVEL_TOO_LOW"
	CodeQuestInvalid       Code = "QUEST_INVALID"
	CodeQuestUnavailable   Code = "QUEST_UNAVAILABLE"
	CodeNetworkError       Code = "NETWORK_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"
)

// Kind groups codes by how the server reacts to them.
type Kind int

const (
	// KindUser errors go back to the player verbatim and are not faults.
	KindUser Kind = iota
	// KindDataIntegrity means stored or loaded quest data is corrupt.
	KindDataIntegrity
	// KindTransport covers storage and identity-provider failures; retried once.
	KindTransport
	// KindUnclassified is everything else.
	KindUnclassified
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindDataIntegrity:
		return "data_integrity"
	case KindTransport:
		return "transport"
	}
	return "unclassified"
}

// Kind returns the group c belongs to.
func (c Code) Kind() Kind {
	switch c {
	case CodeAlreadyHasQuest, CodeProfessionMismatch, CodeQuestLimitReached,
		CodeInventoryFull, CodePlayerLevelTooLow, CodeQuestUnavailable:
		return KindUser
	case CodeQuestInvalid:
		return KindDataIntegrity
	case CodeNetworkError:
		return KindTransport
	}
	return KindUnclassified
}

// Error is a typed acceptance rejection.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acceptance: %s: %v", e.Code, e.Err)
	}
	return "acceptance: " + string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code, so errors.Is(err, Reject(CodeX, nil)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Reject builds an *Error with code wrapping cause (which may be nil).
func Reject(code Code, cause error) *Error {
	return &Error{Code: code, Err: cause}
}

// Classify maps any error onto an *Error. Typed errors pass through unchanged;
// anything else becomes UNKNOWN_ERROR. Nil stays nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Reject(CodeUnknownError, err)
}

// CodeOf returns the code carried by err, or "" for nil.
func CodeOf(err error) Code {
	if ae := Classify(err); ae != nil {
		return ae.Code
	}
	return ""
}
