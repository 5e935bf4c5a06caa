package client

import (
	"context"
	"errors"
	"net"

	"github.com/tidwall/gjson"
)

// ClassifyStatus converts a non-2xx response into a structured Error.
// When the body carries an envelope, its code and message win; otherwise the
// static status table applies. Pure and idempotent: the same input always
// yields the same Error, and no notification happens here.
func ClassifyStatus(status int, body []byte) *Error {
	e := &Error{Code: status, Message: statusMessage(status)}
	if len(body) == 0 {
		return e
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return e
	}
	if code := parsed.Get("code"); code.Exists() && code.Type == gjson.Number {
		e.Code = int(code.Int())
	}
	if msg := parsed.Get("message"); msg.Exists() && msg.String() != "" {
		e.Message = msg.String()
	}
	if detail := parsed.Get("detail"); detail.Exists() {
		e.Detail = detail.Value()
	}
	return e
}

// ClassifyTransport converts a failure with no HTTP response into a
// structured Error with code 0, distinguishing timeouts from generic
// connectivity failures. Caller cancellation is marked so the pipeline
// short-circuits without retry, refresh, or notification.
func ClassifyTransport(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return newCanceledError()
	}
	if isTimeout(err) {
		return &Error{Code: CodeTransport, Message: "request timed out"}
	}
	return &Error{Code: CodeTransport, Message: "network unreachable"}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
