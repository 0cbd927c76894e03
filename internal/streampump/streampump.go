// Package streampump concurrently reads a child's stdout and stderr
// line-by-line in a pair of reader goroutines, routing each line into a
// LogStore and notifying an optional callback. Cancellation is checked
// between lines.
package streampump

import (
	"bufio"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/logstore"
)

// Appender is the subset of *logstore.Store a Pump needs.
type Appender interface {
	Append(session int, stream logstore.Stream, content string) logstore.Entry
}

// Callback is invoked once per line read, after it has been appended to
// the log store.
type Callback func(stream logstore.Stream, content string)

// Pump reads a session's stdout/stderr concurrently into a LogStore.
type Pump struct {
	logger  *corelog.Logger
	session int
	store   Appender
	onLine  Callback

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Pump for session, reading from stdout and stderr.
// onLine may be nil.
func New(log *corelog.Logger, session int, store Appender, onLine Callback) *Pump {
	return &Pump{
		logger:  log.WithFields(zap.String("component", "stream-pump"), zap.Int("session", session)),
		session: session,
		store:   store,
		onLine:  onLine,
		stopCh:  make(chan struct{}),
	}
}

// Start begins reading stdout and stderr in two background goroutines.
func (p *Pump) Start(stdout, stderr io.Reader) {
	p.wg.Add(2)
	go p.read(stdout, logstore.StreamOut)
	go p.read(stderr, logstore.StreamErr)
}

// Stop signals both readers to cancel and blocks until they have
// returned. A reader sees the cancellation only after its next line
// arrives; a read blocked waiting for input is not interrupted, so Stop
// returns once each reader has either received another line or reached
// end-of-stream. Lines already handed to the log store before Stop is
// called are not dropped.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pump) read(r io.Reader, stream logstore.Stream) {
	defer p.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-p.stopCh:
			return
		default:
		}

		line := scanner.Text()
		p.store.Append(p.session, stream, line)
		if p.onLine != nil {
			p.onLine(stream, line)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("stream pump read error", zap.String("stream", string(stream)), zap.Error(err))
	}
}
