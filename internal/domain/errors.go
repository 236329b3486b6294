package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrToolCallNotFound     = fmt.Errorf("tool call not found")
	ErrMessageFinalized     = fmt.Errorf("message already finalized")
	ErrResolveFailed        = fmt.Errorf("reference resolution failed")
	ErrResolverUnavailable  = fmt.Errorf("resolver unavailable")
	ErrRateLimit            = fmt.Errorf("rate limit exceeded")
	ErrReconnectExhausted   = fmt.Errorf("reconnect attempts exhausted")
	ErrNotConnected         = fmt.Errorf("transport not connected")
	ErrApprovalPending      = fmt.Errorf("tool approval pending")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Resolver.Resolve")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeConversationMissing ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeToolCallMissing     ErrorCode = "TOOL_CALL_NOT_FOUND"
	CodeMessageFinalized    ErrorCode = "MESSAGE_FINALIZED"
	CodeResolveFailed       ErrorCode = "RESOLVE_FAILED"
	CodeResolverUnavailable ErrorCode = "RESOLVER_UNAVAILABLE"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeReconnectExhausted  ErrorCode = "RECONNECT_EXHAUSTED"
	CodeNotConnected        ErrorCode = "NOT_CONNECTED"
	CodeApprovalPending     ErrorCode = "APPROVAL_PENDING"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
)

var errorCodeMap = map[error]ErrorCode{
	ErrConversationNotFound: CodeConversationMissing,
	ErrToolCallNotFound:     CodeToolCallMissing,
	ErrMessageFinalized:     CodeMessageFinalized,
	ErrResolveFailed:        CodeResolveFailed,
	ErrResolverUnavailable:  CodeResolverUnavailable,
	ErrRateLimit:            CodeRateLimit,
	ErrReconnectExhausted:   CodeReconnectExhausted,
	ErrNotConnected:         CodeNotConnected,
	ErrApprovalPending:      CodeApprovalPending,
	ErrConfigLoad:           CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error,
// walking the wrap chain with errors.Is. Returns CodeUnknown if no sentinel
// matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
