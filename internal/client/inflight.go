package client

import "context"

// InFlight is a dispatched request whose caller holds an explicit cancel
// handle. Cancel aborts the in-flight call; the pipeline then skips retry
// and refresh and resolves exactly once with a cancellation-marked error.
type InFlight struct {
	cancel context.CancelFunc
	done   chan struct{}
	env    *Envelope
	err    error
}

// Go dispatches req asynchronously and returns its handle.
func (c *Client) Go(ctx context.Context, req *Request) *InFlight {
	ctx, cancel := context.WithCancel(ctx)
	f := &InFlight{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer cancel()
		f.env, f.err = c.Do(ctx, req)
	}()
	return f
}

// Cancel aborts the request. Safe to call more than once.
func (f *InFlight) Cancel() {
	f.cancel()
}

// Done is closed when the request has resolved.
func (f *InFlight) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the request resolves and returns its outcome.
func (f *InFlight) Wait() (*Envelope, error) {
	<-f.done
	return f.env, f.err
}
