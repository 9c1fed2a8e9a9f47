// Package status mirrors the subset of google.rpc.Code used for per-blob results.
package status

import "fmt"

type Status struct {
	Code    StatusCode
	Message string
}

func (s Status) OK() bool {
	return s.Code == Status_OK
}

func (s Status) String() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

type StatusCode int32

const (
	// The operation completed successfully.
	Status_OK StatusCode = 0
	// Unknown error.
	Status_UNKNOWN StatusCode = 2
	// The client specified an invalid argument, such as data that does not match its digest.
	Status_INVALID_ARGUMENT StatusCode = 3
	// The operation could not be completed within the specified timeout.
	Status_DEADLINE_EXCEEDED StatusCode = 4
	// The requested blob was not found.
	Status_NOT_FOUND StatusCode = 5
	// The caller does not have permission to execute the specified operation.
	Status_PERMISSION_DENIED StatusCode = 7
	// There is insufficient quota of some resource to perform the requested operation. The client may retry after a delay.
	Status_RESOURCE_EXHAUSTED StatusCode = 8
	// The operation was rejected because the system is not in a state required for the operation's execution.
	Status_FAILED_PRECONDITION StatusCode = 9
	// The operation could not be completed, typically due to a failed consistency check.
	Status_ABORTED StatusCode = 10
	// Internal errors. Some invariants expected by the underlying system have been broken.
	Status_INTERNAL StatusCode = 13
	// The service is currently unavailable. The client may retry.
	Status_UNAVAILABLE StatusCode = 14
	// Unrecoverable data loss or corruption.
	Status_DATA_LOSS StatusCode = 15
)

func (c StatusCode) String() string {
	switch c {
	case Status_OK:
		return "OK"
	case Status_UNKNOWN:
		return "UNKNOWN"
	case Status_INVALID_ARGUMENT:
		return "INVALID_ARGUMENT"
	case Status_DEADLINE_EXCEEDED:
		return "DEADLINE_EXCEEDED"
	case Status_NOT_FOUND:
		return "NOT_FOUND"
	case Status_PERMISSION_DENIED:
		return "PERMISSION_DENIED"
	case Status_RESOURCE_EXHAUSTED:
		return "RESOURCE_EXHAUSTED"
	case Status_FAILED_PRECONDITION:
		return "FAILED_PRECONDITION"
	case Status_ABORTED:
		return "ABORTED"
	case Status_INTERNAL:
		return "INTERNAL"
	case Status_UNAVAILABLE:
		return "UNAVAILABLE"
	case Status_DATA_LOSS:
		return "DATA_LOSS"
	}
	return fmt.Sprintf("CODE(%d)", int32(c))
}
