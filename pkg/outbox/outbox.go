// Package outbox is the best-effort push channel. Nothing here returns
// an error to the caller: a push is queued or dropped and logged, and the
// durable record written before it stays the source of truth.
package outbox

import (
	"context"
	"errors"
	"sync/atomic"

	"roadassist/pkg/logger"
	"roadassist/pkg/presence"
)

// Sink is the live delivery target, normally *presence.Registry.
type Sink interface {
	Send(principalID string, ev presence.Event) error
	EmitRoom(room string, ev presence.Event) []string
}

type item struct {
	room       string
	recipients []string
	ev         presence.Event
}

// Outbox is a bounded FIFO drained by a single worker, so pushes leave
// in the order they were queued.
type Outbox struct {
	queue   chan item
	sink    Sink
	log     logger.ILogger
	dropped atomic.Int64
}

func New(sink Sink, size int, log logger.ILogger) *Outbox {
	if size <= 0 {
		size = 1024
	}
	return &Outbox{
		queue: make(chan item, size),
		sink:  sink,
		log:   log,
	}
}

// Push queues ev for one principal.
func (o *Outbox) Push(principalID string, ev presence.Event) {
	o.enqueue(item{recipients: []string{principalID}, ev: ev})
}

// PushRoom emits ev to room, then directly to each of alsoTo that was
// not reached through the room.
func (o *Outbox) PushRoom(room string, ev presence.Event, alsoTo ...string) {
	o.enqueue(item{room: room, recipients: alsoTo, ev: ev})
}

func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

func (o *Outbox) enqueue(it item) {
	select {
	case o.queue <- it:
	default:
		o.dropped.Add(1)
		o.log.Warning("outbox full, dropping push", logger.String("event", it.ev.Name), logger.String("room", it.room), logger.Strings("recipients", it.recipients))
	}
}

// Run drains the queue until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-o.queue:
			o.deliver(it)
		}
	}
}

func (o *Outbox) deliver(it item) {
	reached := map[string]bool{}
	if it.room != "" {
		for _, id := range o.sink.EmitRoom(it.room, it.ev) {
			reached[id] = true
		}
	}
	for _, id := range it.recipients {
		if id == "" || reached[id] {
			continue
		}
		reached[id] = true
		if err := o.sink.Send(id, it.ev); err != nil {
			if errors.Is(err, presence.ErrNotPresent) {
				o.log.Debug("recipient offline, push skipped", logger.String("event", it.ev.Name), logger.String("principal_id", id))
				continue
			}
			o.log.Warning("push failed", logger.String("event", it.ev.Name), logger.String("principal_id", id), logger.Error(err))
		}
	}
}
