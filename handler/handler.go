// Package handler provides sequential execution contexts: tasks posted to a
// Handler run one at a time, in post order, on the Handler's goroutine.
package handler

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler runs posted tasks on a dedicated goroutine. The queue is
// unbounded so Post never blocks.
type Handler struct {
	name string
	log  *logrus.Entry

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// New starts a Handler. name shows up in log lines.
func New(name string) *Handler {
	h := &Handler{
		name: name,
		log:  logrus.WithField("handler", name),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go h.loop()
	return h
}

// Post queues task. Tasks posted after Close are dropped.
func (h *Handler) Post(task func()) {
	if task == nil {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.log.Warn("post after close, task dropped")
		return
	}
	h.queue = append(h.queue, task)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting tasks, waits for the queued ones to run and stops
// the goroutine. Calling Close from a task on the same Handler deadlocks.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.closed = true
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	<-h.done
}

// Sync blocks until every task posted before the call has run.
func (h *Handler) Sync() {
	ch := make(chan struct{})
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.queue = append(h.queue, func() { close(ch) })
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	<-ch
}

// Name returns the name h was started with.
func (h *Handler) Name() string {
	return h.name
}

func (h *Handler) loop() {
	defer close(h.done)

	for {
		h.mu.Lock()
		batch := h.queue
		h.queue = nil
		closed := h.closed
		h.mu.Unlock()

		for _, task := range batch {
			h.run(task)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-h.wake
	}
}

func (h *Handler) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("task panicked: %v", r)
		}
	}()
	task()
}
