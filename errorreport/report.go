// Package errorreport builds the human-readable error reports shown in place
// of an embedded report when any step of the token cycle fails.
//
// A Report is an ordered list of lines. Every fetcher produces its report the
// same way:
//
//	Error occurred while fetching the access token of the report
//	Request Id: 6a1c…
//	Error 401: invalid_client
//
// The first line describes the failed step, the second carries the
// correlation id returned by the server, and the last one carries the HTTP
// status together with the server-reported error code, or a generic line when
// the body could not be parsed.
package errorreport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind classifies a failure.
type Kind int

const (
	// KindConfiguration means required identifiers were missing; no call was made.
	KindConfiguration Kind = iota
	// KindNetwork means no HTTP response was obtained.
	KindNetwork
	// KindProtocol means a non-2xx response was received.
	KindProtocol
	// KindParse means the response body was not what was expected.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// requestIDHeaders are checked in order for the correlation id.
var requestIDHeaders = []string{"requestId", "x-ms-request-id", "request-id"}

// Report is an ordered, human-readable error description. It implements error
// so it can travel through ordinary error returns.
type Report struct {
	Kind       Kind
	Lines      []string
	StatusCode int
	ErrorCode  string
	RequestID  string
	Cause      error
}

func (r *Report) Error() string {
	if r == nil || len(r.Lines) == 0 {
		return "error report"
	}
	return strings.Join(r.Lines, ": ")
}

func (r *Report) Unwrap() error {
	if r == nil {
		return nil
	}
	return r.Cause
}

// Empty reports whether the report carries no lines.
func (r *Report) Empty() bool {
	return r == nil || len(r.Lines) == 0
}

// Clone returns a deep copy.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.Lines = append([]string(nil), r.Lines...)
	return &c
}

// Configuration reports a misconfiguration detected before any network call.
func Configuration(message string) *Report {
	return &Report{
		Kind:  KindConfiguration,
		Lines: []string{message},
	}
}

// Network reports a transport failure for the step described by description.
func Network(description string, cause error) *Report {
	return &Report{
		Kind:  KindNetwork,
		Lines: []string{description, fmt.Sprintf("Network error: %v", cause)},
		Cause: cause,
	}
}

// FromResponse builds the report for a response that was not usable: a
// non-2xx status, or a 2xx whose body failed to parse.
func FromResponse(description string, resp *http.Response, body []byte) *Report {
	requestID := RequestID(resp.Header)
	r := &Report{
		Kind:       KindProtocol,
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
		Lines: []string{
			description,
			"Request Id: " + requestID,
		},
	}

	if isSuccess(resp.StatusCode) {
		r.Kind = KindParse
		r.Lines = append(r.Lines, genericLine(resp.StatusCode))
		return r
	}

	code := ""
	if gjson.ValidBytes(body) {
		code = gjson.GetBytes(body, "error.code").String()
	}
	if code == "" {
		r.Lines = append(r.Lines, genericLine(resp.StatusCode))
		return r
	}
	r.ErrorCode = code
	r.Lines = append(r.Lines, fmt.Sprintf("Error %d: %s", resp.StatusCode, code))
	return r
}

// RequestID returns the correlation id header, or "" when absent.
func RequestID(h http.Header) string {
	for _, name := range requestIDHeaders {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// LinesOf returns the report lines carried by err. Errors that are not
// reports become a single line.
func LinesOf(err error) []string {
	if err == nil {
		return nil
	}
	var r *Report
	if errors.As(err, &r) && !r.Empty() {
		return append([]string(nil), r.Lines...)
	}
	return []string{err.Error()}
}

// As extracts a *Report from err, wrapping plain errors as a network report
// for the given step description.
func As(err error, description string) *Report {
	if err == nil {
		return nil
	}
	var r *Report
	if errors.As(err, &r) {
		return r
	}
	return Network(description, err)
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

func genericLine(status int) string {
	return fmt.Sprintf("Error %d:  An error has occurred", status)
}
