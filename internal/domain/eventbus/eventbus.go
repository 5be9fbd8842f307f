// Package eventbus carries process-wide broadcasts between the session,
// HTTP client, task socket and console server. Instances are constructed
// and injected; there is no package-level bus.
package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

// Logger is the subset of the platform logger the bus reports to.
type Logger interface {
	Warn(msg string, args ...any)
}

// Bus wraps an EventBus instance with a bounded worker pool for asynchronous
// publishing.
type Bus struct {
	bus     evbus.Bus
	logger  Logger
	work    chan asyncEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once

	// mu guards closed and inflight; idle is signalled when inflight
	// reaches zero.
	mu       sync.Mutex
	idle     *sync.Cond
	closed   bool
	inflight int
}

type asyncEvent struct {
	topic string
	args  []any
}

// Options configures a Bus.
type Options struct {
	Workers   int
	QueueSize int
	Logger    Logger
}

// New 创建事件总线; workers start immediately.
func New(opts Options) *Bus {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	b := &Bus{
		bus:    evbus.New(),
		logger: opts.Logger,
		work:   make(chan asyncEvent, opts.QueueSize),
		stop:   make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)
	for i := 0; i < opts.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case ev := <-b.work:
			b.deliver(ev.topic, ev.args...)
			b.done()
		}
	}
}

func (b *Bus) done() {
	b.mu.Lock()
	b.inflight--
	if b.inflight == 0 {
		b.idle.Broadcast()
	}
	b.mu.Unlock()
}

func (b *Bus) deliver(topic string, args ...any) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Warn(fmt.Sprintf("[事件] 订阅者处理 %s 时 panic: %v", topic, r))
		}
	}()
	b.bus.Publish(topic, args...)
}

// Publish delivers synchronously on the caller's goroutine.
func (b *Bus) Publish(topic string, args ...any) {
	b.deliver(topic, args...)
}

// PublishAsync queues delivery on the worker pool. When the queue is full the
// event is dropped and counted. Events published after Close are ignored.
func (b *Bus) PublishAsync(topic string, args ...any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.inflight++
	select {
	case b.work <- asyncEvent{topic: topic, args: args}:
		b.mu.Unlock()
	default:
		b.inflight--
		b.mu.Unlock()
		b.dropped.Add(1)
		if b.logger != nil {
			b.logger.Warn("[事件] 异步队列已满，丢弃事件 %s", topic)
		}
	}
}

// Subscribe registers fn for topic. fn must be a func whose parameters match
// what publishers send.
func (b *Bus) Subscribe(topic string, fn any) error {
	return b.bus.Subscribe(topic, fn)
}

// Unsubscribe removes fn from topic.
func (b *Bus) Unsubscribe(topic string, fn any) error {
	return b.bus.Unsubscribe(topic, fn)
}

// HasCallback reports whether topic has subscribers.
func (b *Bus) HasCallback(topic string) bool {
	return b.bus.HasCallback(topic)
}

// Dropped is the number of async events discarded because the queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Drain blocks until every queued async event has been delivered. It must
// not be called from a subscriber.
func (b *Bus) Drain() {
	b.mu.Lock()
	for b.inflight > 0 {
		b.idle.Wait()
	}
	b.mu.Unlock()
}

// Close refuses further async events, drains the queued ones and stops the
// workers.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		for b.inflight > 0 {
			b.idle.Wait()
		}
		b.mu.Unlock()
		close(b.stop)
		b.wg.Wait()
	})
}
