package events

import "context"

// Publisher delivers worker events to the pages.
type Publisher interface {
	Publish(ctx context.Context, ev WorkerEvent) error
}

// Local publishes worker events to an in-process bus only.
type Local struct {
	Bus *Bus[WorkerEvent]
}

func (l Local) Publish(_ context.Context, ev WorkerEvent) error {
	l.Bus.Publish(ev)
	return nil
}
