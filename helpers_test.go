package klatch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	testModel           = "m"
	expectedErrTypeMsg  = "Expected error type %s, got %v"
	expectedCallsMsg    = "Expected %d transport calls, got %d"
	unexpectedErrMsg    = "Unexpected error: %v"
	completionBodyFmt   = `{"choices":[{"message":{"role":"assistant","content":%q}}],"usage":{"total_tokens":%d}}`
	waitForConditionMsg = "condition not met within %v"
)

// fakeClock is a manual clock. Sleep advances time instantly and records the
// requested delay. With block set, Sleep parks until ctx ends and reports
// that it started sleeping on sleeping.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	sleeps   []time.Duration
	block    bool
	sleeping chan time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		sleeping: make(chan time.Duration, 16),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	block := c.block
	c.mu.Unlock()

	if block {
		c.sleeping <- d
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// scriptedTransport replays one step per attempt. The last step repeats once
// the script runs out. A non-nil gate holds every buffered call until it is
// closed.
type scriptedTransport struct {
	mu          sync.Mutex
	steps       []step
	calls       atomic.Int32
	streamCalls atomic.Int32
	gate        chan struct{}
	entered     chan struct{}
	requests    []*Request
}

type step struct {
	text   string
	tokens int
	err    error
	stream func() io.ReadCloser
}

func newScriptedTransport(steps ...step) *scriptedTransport {
	return &scriptedTransport{steps: steps, entered: make(chan struct{}, 64)}
}

func (s *scriptedTransport) next(req *Request) step {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return step{text: "ok"}
	}
	st := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return st
}

func (s *scriptedTransport) Call(ctx context.Context, req *Request) (*Response, error) {
	s.calls.Add(1)
	st := s.next(req)
	select {
	case s.entered <- struct{}{}:
	default:
	}

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, newCancelledError(ctx.Err())
		}
	}
	if st.err != nil {
		return nil, st.err
	}
	return &Response{StatusCode: 200, Body: []byte(fmt.Sprintf(completionBodyFmt, st.text, st.tokens))}, nil
}

func (s *scriptedTransport) OpenStream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	s.streamCalls.Add(1)
	st := s.next(req)
	if st.err != nil {
		return nil, st.err
	}
	if st.stream != nil {
		return st.stream(), nil
	}
	return io.NopCloser(strings.NewReader(sseBody(st.text))), nil
}

func (s *scriptedTransport) Calls() int {
	return int(s.calls.Load())
}

func transientErr(msg string) error {
	return newClientError(ErrorTypeTransport, msg, nil)
}

func statusErr(code int) error {
	errorType := ErrorTypeTerminal
	if code == 408 || code == 429 || code >= 500 {
		errorType = ErrorTypeTransport
	}
	ce := newClientError(errorType, fmt.Sprintf("upstream status %d", code), nil)
	ce.StatusCode = code
	return ce
}

// sseBody renders text as one OpenAI-style delta frame per rune followed by
// the end marker.
func sseBody(text string) string {
	var b strings.Builder
	for _, r := range text {
		fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", string(r))
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// chunkedReader returns its chunks one Read at a time.
type chunkedReader struct {
	chunks [][]byte
	closed atomic.Bool
}

func newChunkedReader(chunks ...string) *chunkedReader {
	r := &chunkedReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkedReader) Close() error {
	r.closed.Store(true)
	return nil
}

// blockingReader yields its prefix and then blocks until closed.
type blockingReader struct {
	prefix []byte
	closed chan struct{}
	once   sync.Once
	reads  chan struct{}
}

func newBlockingReader(prefix string) *blockingReader {
	return &blockingReader{
		prefix: []byte(prefix),
		closed: make(chan struct{}),
		reads:  make(chan struct{}, 16),
	}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	if len(r.prefix) > 0 {
		n := copy(p, r.prefix)
		r.prefix = r.prefix[n:]
		return n, nil
	}
	r.reads <- struct{}{}
	<-r.closed
	return 0, io.ErrClosedPipe
}

func (r *blockingReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

// failingReader yields its prefix and then fails with err.
type failingReader struct {
	prefix []byte
	err    error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.prefix) > 0 {
		n := copy(p, r.prefix)
		r.prefix = r.prefix[n:]
		return n, nil
	}
	return 0, r.err
}

func (r *failingReader) Close() error { return nil }

func userTurns(content string) []Turn {
	return []Turn{{Role: RoleUser, Content: content}}
}

func newTestClient(transport Transport, clock *fakeClock, opts ...Option) *Client {
	base := []Option{WithTransport(transport), WithClock(clock)}
	return New(append(base, opts...)...)
}

func waitFor(cond func() bool) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf(waitForConditionMsg, 2*time.Second)
}
