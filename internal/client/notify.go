package client

import (
	log "github.com/nghyane/restbridge/internal/logging"
)

// Notifier surfaces terminal failures to the user layer. The pipeline calls
// it before returning the error, unless the request is silent or canceled.
type Notifier interface {
	Notify(err *Error)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(err *Error)

func (f NotifierFunc) Notify(err *Error) {
	f(err)
}

// logNotifier is the default: terminal failures land in the log at WARN.
type logNotifier struct{}

func (logNotifier) Notify(err *Error) {
	log.WithField("code", err.Code).Warn(err.Message)
}
