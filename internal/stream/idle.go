package stream

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrIdleTimeout is returned by IdleTimeoutReader when the upstream produced
// no bytes within the configured bound. Callers treat it like any other
// mid-stream read failure.
var ErrIdleTimeout = errors.New("stream idle timeout")

type readResult struct {
	data []byte
	err  error
}

// IdleTimeoutReader wraps an upstream response body and bounds the time
// between successive byte deliveries. Without it, an upstream that stalls
// without closing the connection would hang a decode indefinitely.
type IdleTimeoutReader struct {
	rc      io.ReadCloser
	timeout time.Duration

	results chan readResult
	done    chan struct{}
	once    sync.Once

	leftover []byte
}

// NewIdleTimeoutReader starts the background pump and returns the wrapped
// reader. Close must be called to release the underlying body.
func NewIdleTimeoutReader(rc io.ReadCloser, timeout time.Duration) *IdleTimeoutReader {
	r := &IdleTimeoutReader{
		rc:      rc,
		timeout: timeout,
		results: make(chan readResult),
		done:    make(chan struct{}),
	}
	go r.pump()
	return r
}

// pump reads the underlying stream and hands chunks to Read. It exits when
// the underlying reader errors or the wrapper is closed.
func (r *IdleTimeoutReader) pump() {
	for {
		buf := make([]byte, readChunkSize)
		n, err := r.rc.Read(buf)

		if n > 0 {
			select {
			case r.results <- readResult{data: buf[:n]}:
			case <-r.done:
				return
			}
		}
		if err != nil {
			select {
			case r.results <- readResult{err: err}:
			case <-r.done:
			}
			return
		}
	}
}

// Read implements io.Reader. It fails with ErrIdleTimeout when no bytes
// arrive within the configured bound.
func (r *IdleTimeoutReader) Read(p []byte) (int, error) {
	if len(r.leftover) > 0 {
		n := copy(p, r.leftover)
		r.leftover = r.leftover[n:]
		return n, nil
	}
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-r.results:
		if res.err != nil {
			return 0, res.err
		}
		n := copy(p, res.data)
		if n < len(res.data) {
			r.leftover = res.data[n:]
		}
		return n, nil
	case <-timer.C:
		return 0, ErrIdleTimeout
	case <-r.done:
		return 0, io.ErrClosedPipe
	}
}

// Close releases the underlying body and stops the pump.
func (r *IdleTimeoutReader) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.rc.Close()
	})
	return err
}
