// internal/progress/progress.go
package progress

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
)

// Update is one progress notification.
type Update struct {
	Message string
	Current int
	Total   int
}

// Func adapts a plain function to a schemas.ProgressSink.
type Func func(message string, current, total int)

func (f Func) Report(message string, current, total int) { f(message, current, total) }

// Nop discards every report.
type Nop struct{}

func (Nop) Report(string, int, int) {}

// LogSink writes reports to a zap logger at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging under the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

func (l *LogSink) Report(message string, current, total int) {
	l.logger.Debug(message, zap.Int("current", current), zap.Int("total", total))
}

// Async decouples reporters from a slow sink. Report never blocks: when the
// buffer is full the update is dropped. Panics in the wrapped sink are
// recovered and logged.
type Async struct {
	sink    schemas.ProgressSink
	updates chan Update
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	done    chan struct{}
}

// NewAsync starts the delivery goroutine. Call Close to stop it.
func NewAsync(sink schemas.ProgressSink, buffer int, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 1
	}
	a := &Async{
		sink:    sink,
		updates: make(chan Update, buffer),
		logger:  logger.Named("progress"),
		done:    make(chan struct{}),
	}
	go a.deliver()
	return a
}

func (a *Async) Report(message string, current, total int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.updates <- Update{Message: message, Current: current, Total: total}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many updates were discarded because the buffer was full.
func (a *Async) Dropped() int {
	return int(a.dropped.Load())
}

// Close stops accepting updates and waits until the buffered ones are delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.updates)
	a.mu.Unlock()
	<-a.done
}

func (a *Async) deliver() {
	defer close(a.done)
	for u := range a.updates {
		a.safeReport(u)
	}
}

func (a *Async) safeReport(u Update) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Progress sink panicked",
				zap.Any("panicValue", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	a.sink.Report(u.Message, u.Current, u.Total)
}
