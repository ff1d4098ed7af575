package errors

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusReports holds the presentation of each gRPC status code. Title and
// Recovery are fixed per code; the message comes from the server when the
// entry leaves it empty.
var statusReports = map[codes.Code]Report{
	codes.Unavailable: {
		Severity: SeverityError,
		Title:    "Cannot Connect to Server",
		Message:  "The server is not responding.",
		Recovery: []string{"Check that the server is running", "Verify the address and port"},
		ExitCode: ExitUnavailable,
	},
	codes.DeadlineExceeded: {
		Severity: SeverityError,
		Title:    "Request Timeout",
		Message:  "The server took too long to respond.",
		Recovery: []string{"Try again", "Increase the -timeout setting"},
		ExitCode: ExitUnavailable,
	},
	codes.Unauthenticated: {
		Severity: SeverityError,
		Title:    "Authentication Required",
		Message:  "You need to authenticate to access this service.",
		Recovery: []string{"Add credentials with -H"},
		ExitCode: ExitRPC,
	},
	codes.PermissionDenied: {
		Severity: SeverityError,
		Title:    "Access Denied",
		Message:  "You don't have permission to call this method.",
		Recovery: []string{"Contact the server administrator for access"},
		ExitCode: ExitRPC,
	},
	codes.InvalidArgument: {
		Severity: SeverityError,
		Title:    "Invalid Request",
		Recovery: []string{"Check field values", "See details for specifics"},
		ExitCode: ExitRPC,
	},
	codes.Internal: {
		Severity: SeverityError,
		Title:    "Server Error",
		Message:  "The call failed with an internal error.",
		Recovery: []string{"Try again later", "Check that client and server agree on the schema"},
		ExitCode: ExitRPC,
	},
	codes.Unimplemented: {
		Severity: SeverityWarning,
		Title:    "Method Not Available",
		Message:  "This method is not implemented on the server.",
		Recovery: []string{"Check the method name", "Verify the server version"},
		ExitCode: ExitRPC,
	},
	codes.NotFound: {
		Severity: SeverityError,
		Title:    "Not Found",
		Recovery: []string{"Check the request parameters"},
		ExitCode: ExitRPC,
	},
	codes.AlreadyExists: {
		Severity: SeverityError,
		Title:    "Already Exists",
		Recovery: []string{"Use a different identifier"},
		ExitCode: ExitRPC,
	},
	codes.ResourceExhausted: {
		Severity: SeverityError,
		Title:    "Resource Exhausted",
		Message:  "The server has insufficient resources, or a message was too large.",
		Recovery: []string{"Try again later", "Reduce request size"},
		ExitCode: ExitRPC,
	},
	codes.FailedPrecondition: {
		Severity: SeverityError,
		Title:    "Failed Precondition",
		Recovery: []string{"Check system state", "See details for more info"},
		ExitCode: ExitRPC,
	},
	codes.Aborted: {
		Severity: SeverityError,
		Title:    "Operation Aborted",
		Message:  "The operation was aborted, typically due to concurrency issues.",
		Recovery: []string{"Try again"},
		ExitCode: ExitRPC,
	},
	codes.OutOfRange: {
		Severity: SeverityError,
		Title:    "Out of Range",
		Recovery: []string{"Check input values"},
		ExitCode: ExitRPC,
	},
	codes.DataLoss: {
		Severity: SeverityFatal,
		Title:    "Data Loss",
		Message:  "Unrecoverable data loss or corruption.",
		Recovery: []string{"Contact the server administrator"},
		ExitCode: ExitRPC,
	},
	codes.Canceled: {
		Severity: SeverityInfo,
		Title:    "Request Cancelled",
		Message:  "The operation was cancelled.",
		ExitCode: ExitCancelled,
	},
}

// classifyStatus reports a gRPC status error. Rich error details sent by
// the server are rendered into Details.
func classifyStatus(err error) *Report {
	st, _ := status.FromError(err)

	details := fmt.Sprintf("gRPC: %s - %s", st.Code(), st.Message())
	if extra := formatStatusDetails(st); extra != "" {
		details += "\n\n" + extra
	}

	r, ok := statusReports[st.Code()]
	if !ok {
		r = Report{
			Severity: SeverityError,
			Title:    "Request Failed",
			Recovery: []string{"Try again"},
			ExitCode: ExitRPC,
		}
	}
	r.Err = err
	r.Details = details
	if r.Message == "" {
		r.Message = st.Message()
	}
	r.Recovery = append([]string(nil), r.Recovery...)
	return &r
}

// formatStatusDetails extracts and formats rich error details from a gRPC status.
func formatStatusDetails(st *status.Status) string {
	details := st.Details()
	if len(details) == 0 {
		return ""
	}

	var sections []string

	for _, detail := range details {
		switch d := detail.(type) {
		case *errdetails.BadRequest:
			if fvs := d.GetFieldViolations(); len(fvs) > 0 {
				var lines []string
				lines = append(lines, "Field Violations:")
				for _, fv := range fvs {
					line := fmt.Sprintf("  %s: %s", fv.GetField(), fv.GetDescription())
					if r := fv.GetReason(); r != "" {
						line += fmt.Sprintf(" (reason: %s)", r)
					}
					lines = append(lines, line)
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.DebugInfo:
			var lines []string
			lines = append(lines, "Debug Info:")
			if d.GetDetail() != "" {
				lines = append(lines, "  "+d.GetDetail())
			}
			for _, entry := range d.GetStackEntries() {
				lines = append(lines, "  "+entry)
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.ErrorInfo:
			var lines []string
			lines = append(lines, fmt.Sprintf("Error Info: %s", d.GetReason()))
			if d.GetDomain() != "" {
				lines = append(lines, fmt.Sprintf("  Domain: %s", d.GetDomain()))
			}
			md := d.GetMetadata()
			for _, k := range slices.Sorted(maps.Keys(md)) {
				lines = append(lines, fmt.Sprintf("  %s: %s", k, md[k]))
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.RetryInfo:
			if delay := d.GetRetryDelay(); delay != nil {
				sections = append(sections, fmt.Sprintf("Retry after: %v", delay.AsDuration()))
			}

		case *errdetails.PreconditionFailure:
			if vs := d.GetViolations(); len(vs) > 0 {
				var lines []string
				lines = append(lines, "Precondition Failures:")
				for _, v := range vs {
					lines = append(lines, fmt.Sprintf("  [%s] %s: %s", v.GetType(), v.GetSubject(), v.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.QuotaFailure:
			if vs := d.GetViolations(); len(vs) > 0 {
				var lines []string
				lines = append(lines, "Quota Failures:")
				for _, v := range vs {
					lines = append(lines, fmt.Sprintf("  %s: %s", v.GetSubject(), v.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.RequestInfo:
			sections = append(sections, fmt.Sprintf("Request ID: %s", d.GetRequestId()))

		case *errdetails.ResourceInfo:
			sections = append(sections, fmt.Sprintf("Resource: %s/%s - %s", d.GetResourceType(), d.GetResourceName(), d.GetDescription()))

		case *errdetails.Help:
			if links := d.GetLinks(); len(links) > 0 {
				var lines []string
				lines = append(lines, "Help:")
				for _, link := range links {
					lines = append(lines, fmt.Sprintf("  %s: %s", link.GetDescription(), link.GetUrl()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		default:
			sections = append(sections, fmt.Sprintf("Detail: %v", detail))
		}
	}

	return strings.Join(sections, "\n\n")
}
