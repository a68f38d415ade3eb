// Package errors provides structured application errors that map onto gRPC status codes.
// The code travels on the wire as an ErrorInfo detail so clients can recover it.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
)

// Domain is the ErrorInfo domain attached to every status this package produces.
const Domain = "boostmeter"

// Code identifies an error category.
type Code int

const (
	Unknown Code = iota
	Internal
	InvalidArgument
	NotFound
	Unavailable
	Timeout
	Cancelled
	FailedPrecondition

	CaptureFailed
	CaptureUnavailable
	FrameInvalid
	ScaleInvalid
	ProfileInvalid
	HistoryFailed
	AudioFailed
	ConfigInvalid
	ConfigMissing
)

type codeInfo struct {
	name      string
	grpc      codes.Code
	retryable bool
}

var codeTable = map[Code]codeInfo{
	Unknown:            {"UNKNOWN", codes.Unknown, false},
	Internal:           {"INTERNAL", codes.Internal, false},
	InvalidArgument:    {"INVALID_ARGUMENT", codes.InvalidArgument, false},
	NotFound:           {"NOT_FOUND", codes.NotFound, false},
	Unavailable:        {"UNAVAILABLE", codes.Unavailable, true},
	Timeout:            {"TIMEOUT", codes.DeadlineExceeded, true},
	Cancelled:          {"CANCELLED", codes.Canceled, false},
	FailedPrecondition: {"FAILED_PRECONDITION", codes.FailedPrecondition, false},
	CaptureFailed:      {"CAPTURE_FAILED", codes.Internal, true},
	CaptureUnavailable: {"CAPTURE_UNAVAILABLE", codes.Unavailable, false},
	FrameInvalid:       {"FRAME_INVALID", codes.InvalidArgument, false},
	ScaleInvalid:       {"SCALE_INVALID", codes.InvalidArgument, false},
	ProfileInvalid:     {"PROFILE_INVALID", codes.InvalidArgument, false},
	HistoryFailed:      {"HISTORY_FAILED", codes.Internal, false},
	AudioFailed:        {"AUDIO_FAILED", codes.Internal, false},
	ConfigInvalid:      {"CONFIG_INVALID", codes.InvalidArgument, false},
	ConfigMissing:      {"CONFIG_MISSING", codes.FailedPrecondition, false},
}

func (c Code) String() string {
	if info, ok := codeTable[c]; ok {
		return info.name
	}
	return codeTable[Unknown].name
}

// ParseCode is the inverse of Code.String.
func ParseCode(s string) Code {
	for c, info := range codeTable {
		if info.name == s {
			return c
		}
	}
	return Unknown
}

// AppError carries a Code, a message, optional metadata, and the cause.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *AppError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		fmt.Fprintf(&b, " %v", e.Metadata)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) GRPCCode() codes.Code {
	if info, ok := codeTable[e.Code]; ok {
		return info.grpc
	}
	return codes.Unknown
}

// ToProto converts to an ErrorInfo detail.
func (e *AppError) ToProto() *errdetails.ErrorInfo {
	info := &errdetails.ErrorInfo{Reason: e.Code.String(), Domain: Domain}
	if len(e.Metadata) > 0 {
		info.Metadata = e.Metadata
	}
	return info
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	detail, err := anypb.New(e.ToProto())
	if err != nil {
		return st
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		st = withDetail
	}
	return st
}

func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and msg to err, which stays reachable through errors.Is and errors.As.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata sets key on e and returns e for chaining.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError recovers the AppError a server sent. Statuses without an
// ErrorInfo from this domain fall back to the nearest Code.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return &AppError{Code: ParseCode(info.GetReason()), Message: st.Message(), Metadata: info.GetMetadata()}
		}
	}

	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message()}
}

func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.NotFound:
		return NotFound
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return FailedPrecondition
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode reports whether any AppError in err's chain has code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable reports whether err is an AppError whose code marks a transient failure.
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && codeTable[appErr.Code].retryable
}
