package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind classifies every failure a Client returns.
type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindNetwork
	KindValidation
	KindServer
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	case KindRequest:
		return "request"
	default:
		return "unknown"
	}
}

var (
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrTokenResponse  = errors.New("invalid token response")
)

// Error is the decoded form of a failed API call.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or zero if err did not come from a Client.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusBadRequest,
		status == http.StatusConflict,
		status == http.StatusUnprocessableEntity:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindRequest
	}
}

// errorBody accepts the error shapes the API is known to produce:
// {"error":"msg"}, {"error":{"message":"msg","code":"c"}} and {"message":"msg"}.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

type nestedError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

const maxErrorBody = 64 << 10

// decodeError reads and closes resp.Body.
func decodeError(resp *http.Response) *Error {
	defer resp.Body.Close()

	apiErr := &Error{
		Kind:   kindForStatus(resp.StatusCode),
		Status: resp.StatusCode,
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}

	apiErr.Message = body.Message
	apiErr.Code = body.Code
	if len(body.Error) > 0 {
		var text string
		var nested nestedError
		switch {
		case json.Unmarshal(body.Error, &text) == nil:
			apiErr.Message = text
		case json.Unmarshal(body.Error, &nested) == nil:
			apiErr.Message = nested.Message
			if nested.Code != "" {
				apiErr.Code = nested.Code
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// transportError turns an error from http.Client.Do into an *Error,
// keeping any *Error already raised by the refresh path.
func transportError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Kind: KindNetwork, Err: err}
}
