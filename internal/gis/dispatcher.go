package gis

import (
	"context"
	"errors"
	"sync"
)

// ErrDispatcherClosed is returned for work submitted after Close
var ErrDispatcherClosed = errors.New("gis dispatcher closed")

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Dispatcher runs GIS commands on a single dedicated goroutine. Callers
// marshal work into it with Do and wait for the result.
type Dispatcher struct {
	jobs      chan job
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts the dispatcher goroutine
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			j.done <- j.fn(j.ctx)
		case <-d.quit:
			return
		}
	}
}

// Do runs fn on the dispatcher goroutine and waits for it to finish. A job
// that has started always runs to completion; ctx only bounds the wait to
// get onto the queue.
func (d *Dispatcher) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case d.jobs <- j:
	case <-d.quit:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-j.done
}

// Close stops the dispatcher after the running job, if any, completes
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.quit) })
	d.wg.Wait()
}
