package streampump

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/logstore"
)

type fakeAppender struct {
	mu      sync.Mutex
	entries []logstore.Entry
}

func (f *fakeAppender) Append(session int, stream logstore.Stream, content string) logstore.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := logstore.Entry{Stream: stream, Content: content}
	f.entries = append(f.entries, e)
	return e
}

func (f *fakeAppender) snapshot() []logstore.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]logstore.Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

func TestPumpRoutesLinesToStore(t *testing.T) {
	store := &fakeAppender{}
	pump := New(corelog.Default(), 1, store, nil)

	stdout := strings.NewReader("line one\nline two\n")
	stderr := strings.NewReader("err line\n")

	pump.Start(stdout, stderr)
	pump.Stop()

	entries := store.snapshot()
	require.Len(t, entries, 3)

	var outCount, errCount int
	for _, e := range entries {
		if e.Stream == logstore.StreamOut {
			outCount++
		}
		if e.Stream == logstore.StreamErr {
			errCount++
		}
	}
	assert.Equal(t, 2, outCount)
	assert.Equal(t, 1, errCount)
}

func TestPumpInvokesCallbackPerLine(t *testing.T) {
	store := &fakeAppender{}
	var mu sync.Mutex
	var seen []string

	pump := New(corelog.Default(), 1, store, func(stream logstore.Stream, content string) {
		mu.Lock()
		seen = append(seen, content)
		mu.Unlock()
	})

	pump.Start(strings.NewReader("alpha\nbeta\n"), strings.NewReader(""))
	pump.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"alpha", "beta"}, seen)
}

// blockingReader blocks until closed is closed and then reports
// end-of-stream, so the test can check that Stop() returns once a blocked
// read completes.
type blockingReader struct {
	closed chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.closed
	return 0, strings.NewReader("").Read(p)
}

func TestPumpStopReturnsOnceBlockedReadEnds(t *testing.T) {
	store := &fakeAppender{}
	pump := New(corelog.Default(), 1, store, nil)

	br := &blockingReader{closed: make(chan struct{})}
	pump.Start(strings.NewReader(""), br)

	done := make(chan struct{})
	go func() {
		pump.Stop()
		close(done)
	}()
	close(br.closed)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after reader unblocked")
	}
}
