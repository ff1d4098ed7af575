// Package errors turns the errors of every other package into reports a
// person can act on, plus a process exit code.
package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/status"

	"github.com/shhac/dynrpc/internal/codec"
	"github.com/shhac/dynrpc/internal/descriptor"
	"github.com/shhac/dynrpc/internal/dynamic"
	dyngrpc "github.com/shhac/dynrpc/internal/grpc"
	"github.com/shhac/dynrpc/internal/reflection"
	"github.com/shhac/dynrpc/internal/schema"
	"github.com/shhac/dynrpc/internal/storage"
	"github.com/shhac/dynrpc/internal/textfmt"
)

// Severity indicates how bad an error is.
type Severity int

const (
	SeverityInfo    Severity = iota // worth knowing, not blocking
	SeverityWarning                 // degraded functionality
	SeverityError                   // operation failed, can retry
	SeverityFatal                   // nothing more can be done
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "fatal"
	}
}

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitSchema      = 3
	ExitUnavailable = 4
	ExitRPC         = 5
	ExitCancelled   = 130
)

// Report wraps an error with presentation metadata.
type Report struct {
	Err      error
	Severity Severity
	Title    string   // short user-facing title
	Message  string   // what went wrong
	Recovery []string // suggested next steps
	Details  string   // technical details
	ExitCode int
}

func (r *Report) Error() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Title
}

func (r *Report) Unwrap() error { return r.Err }

// Classify converts err into a Report. It returns nil for a nil error.
func Classify(err error) *Report {
	if err == nil {
		return nil
	}
	var r *Report
	if errors.As(err, &r) {
		return r
	}
	if r := classifyTyped(err); r != nil {
		return r
	}
	if _, ok := status.FromError(err); ok {
		return classifyStatus(err)
	}
	return classifySentinel(err)
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return Classify(err).ExitCode
}

func classifyTyped(err error) *Report {
	var (
		invokeErr *dyngrpc.InvokeError
		loadErr   *schema.LoadError
		parseErr  *textfmt.ParseError
		decodeErr *codec.DecodeError
		fieldErr  *dynamic.FieldError
	)
	switch {
	case errors.As(err, &invokeErr):
		r := &Report{
			Err:      err,
			Severity: SeverityError,
			Details:  err.Error(),
			ExitCode: ExitUsage,
		}
		switch invokeErr.Reason {
		case dyngrpc.UnknownMethod:
			r.Title = "Unknown Method"
			r.Message = "The schema does not define " + invokeErr.Method + "."
			r.Recovery = []string{"Run \"dynrpc list\" to see the available methods"}
			r.ExitCode = ExitSchema
		case dyngrpc.WrongShape:
			r.Title = "Wrong Streaming Shape"
			r.Message = "The method was called as the wrong kind of stream."
			r.Recovery = []string{"Check the method signature with \"dynrpc show\""}
		default:
			r.Title = "Invalid Request"
			r.Message = "The request does not fit the method."
			r.Recovery = []string{"Check the request message type", "Send exactly one request to unary and server streaming methods"}
		}
		return r

	case errors.As(err, &loadErr):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Schema Error",
			Message:  "The schema could not be loaded (" + loadErr.Reason.String() + ").",
			Recovery: []string{"Check the .proto files and the -I import paths"},
			Details:  err.Error(),
			ExitCode: ExitSchema,
		}

	case errors.Is(err, descriptor.ErrNotFound), errors.Is(err, descriptor.ErrAmbiguous):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Unknown Name",
			Message:  err.Error(),
			Recovery: []string{"Use the fully qualified name", "Run \"dynrpc list\" to see what the schema defines"},
			ExitCode: ExitSchema,
		}

	case errors.As(err, &parseErr):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Invalid JSON Input",
			Message:  parseErr.Message,
			Recovery: []string{"Correct the input at " + orRoot(parseErr.Path) + " and try again"},
			Details:  err.Error(),
			ExitCode: ExitUsage,
		}

	case errors.As(err, &decodeErr):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Malformed Message",
			Message:  "The bytes are not a valid " + decodeErr.Message + " (" + decodeErr.Reason.String() + ").",
			Recovery: []string{"Check the message type and the input encoding"},
			Details:  err.Error(),
			ExitCode: ExitFailure,
		}

	case errors.As(err, &fieldErr):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Invalid Field Value",
			Message:  err.Error(),
			ExitCode: ExitUsage,
		}

	case errors.Is(err, reflection.ErrUnavailable):
		return classifySentinel(errors.Join(ErrReflectionUnavailable, err))
	}
	return nil
}

func classifySentinel(err error) *Report {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Request Timeout",
			Message:  "The operation took too long.",
			Recovery: []string{"Try again", "Increase the -timeout setting"},
			ExitCode: ExitUnavailable,
		}

	case errors.Is(err, context.Canceled):
		return &Report{
			Err:      err,
			Severity: SeverityInfo,
			Title:    "Cancelled",
			Message:  "The operation was cancelled.",
			ExitCode: ExitCancelled,
		}

	case errors.Is(err, ErrConnectionFailed):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Connection Failed",
			Message:  "Unable to connect to the server.",
			Recovery: []string{
				"Check that the server is running",
				"Verify the address and port",
			},
			Details:  err.Error(),
			ExitCode: ExitUnavailable,
		}

	case errors.Is(err, ErrReflectionUnavailable), errors.Is(err, reflection.ErrNoServices):
		return &Report{
			Err:      err,
			Severity: SeverityWarning,
			Title:    "Reflection Not Available",
			Message:  "The server did not describe its services through reflection.",
			Recovery: []string{"Pass the schema with -proto or -descriptor-set"},
			Details:  err.Error(),
			ExitCode: ExitSchema,
		}

	case errors.Is(err, ErrNoSchema):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "No Schema",
			Message:  "No schema source was given.",
			Recovery: []string{"Use -proto, -descriptor-set or -reflect"},
			ExitCode: ExitUsage,
		}

	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrAmbiguousID):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "History Entry Not Found",
			Message:  err.Error(),
			Recovery: []string{"Run \"dynrpc history\" to see the recorded IDs", "Give more characters of the ID"},
			ExitCode: ExitUsage,
		}

	case errors.Is(err, ErrInvalidDescriptor):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Invalid Descriptor",
			Message:  "The schema contains an invalid descriptor.",
			Details:  err.Error(),
			ExitCode: ExitSchema,
		}
	}

	var validationErr ValidationError
	if errors.As(err, &validationErr) {
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Invalid Argument",
			Message:  validationErr.Message,
			Recovery: []string{"Correct the value and try again"},
			Details:  validationErr.Error(),
			ExitCode: ExitUsage,
		}
	}

	return &Report{
		Err:      err,
		Severity: SeverityError,
		Title:    "Unexpected Error",
		Message:  "An unexpected error occurred.",
		Details:  err.Error(),
		ExitCode: ExitFailure,
	}
}

func orRoot(path string) string {
	if path == "" {
		return "the top level"
	}
	return path
}
