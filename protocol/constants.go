// Package protocol
// Author: momentics <momentics@gmail.com>
//
// HTTP/1.1 wire constants and state enumerations for the connection state machine.

package protocol

const (
	// FilenameLen bounds the resolved filesystem path, terminator included.
	FilenameLen = 200

	DefaultReadBufferSize  = 2048
	DefaultWriteBufferSize = 1024
)

// Method is an HTTP request method. All are recognized; only GET is serviced.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodHead
	MethodPut
	MethodDelete
	MethodTrace
	MethodOptions
	MethodConnect
	MethodPatch
)

var methodNames = [...]string{
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodHead:    "HEAD",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodTrace:   "TRACE",
	MethodOptions: "OPTIONS",
	MethodConnect: "CONNECT",
	MethodPatch:   "PATCH",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return "UNKNOWN"
	}
	return methodNames[m]
}

// CheckState is the request-level parser state.
type CheckState int

const (
	StateRequestLine CheckState = iota
	StateHeader
	StateContent
)

// HTTPCode is the outcome of parsing and resolving a request.
type HTTPCode int

const (
	NoRequest HTTPCode = iota
	GetRequest
	BadRequest
	NoResource
	ForbiddenRequest
	FileRequest
	InternalError
	ClosedConnection
)

func (c HTTPCode) String() string {
	switch c {
	case NoRequest:
		return "no_request"
	case GetRequest:
		return "get_request"
	case BadRequest:
		return "bad_request"
	case NoResource:
		return "no_resource"
	case ForbiddenRequest:
		return "forbidden"
	case FileRequest:
		return "file_request"
	case InternalError:
		return "internal_error"
	case ClosedConnection:
		return "closed"
	default:
		return "unknown"
	}
}

// LineStatus is the line scanner result.
type LineStatus int

const (
	LineOK LineStatus = iota
	LineBad
	LineOpen
)

// Next tells the reactor what a connection needs after a worker is done.
type Next int

const (
	NextRead Next = iota
	NextWrite
	NextClose
)

// FlushResult is the outcome of one Flush attempt.
type FlushResult int

const (
	FlushRetry FlushResult = iota
	FlushKeepAlive
	FlushClose
	FlushError
)

// Status lines and inline bodies.
const (
	ok200Title    = "OK"
	error400Title = "Bad Request"
	error400Form  = "Your request has bad syntax or is inherently impossible to satisfy.\n"
	error403Title = "Forbidden"
	error403Form  = "You do not have permission to get file from this server.\n"
	error404Title = "Not Found"
	error404Form  = "404\n"
	error500Title = "Internal Error"
	error500Form  = "500\n"

	emptyFileBody = "<html><body></body></html>"
)

// BusyMessage is written to connections refused at accept time.
const BusyMessage = "Internal Server Busy"
