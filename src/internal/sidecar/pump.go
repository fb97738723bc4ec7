package sidecar

import "fmt"

// DefaultTag prefixes relayed sidecar lines.
const DefaultTag = "API"

// Sink receives relayed sidecar lines.
type Sink interface {
	Info(line string)
	Error(line string)
}

// Observer is called on the pump goroutine for every event before it is
// logged. It must not block.
type Observer func(Event)

// Pump relays a sidecar event stream to a Sink.
type Pump struct {
	Sink    Sink
	Tag     string
	Observe Observer
}

// Run consumes events on a new goroutine until a KindTerminated event is seen
// or the channel closes. The returned channel is closed when the pump ends.
func (p *Pump) Run(events <-chan Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if p.Observe != nil {
				p.Observe(ev)
			}
			if p.handle(ev) {
				return
			}
		}
	}()
	return done
}

// handle logs a single event and reports whether the pump should stop.
func (p *Pump) handle(ev Event) bool {
	tag := p.Tag
	if tag == "" {
		tag = DefaultTag
	}

	switch ev.Kind {
	case KindOutput:
		if ev.Stream == Stderr {
			p.Sink.Error(fmt.Sprintf("[%s Error] %s", tag, ev.Data))
		} else {
			p.Sink.Info(fmt.Sprintf("[%s] %s", tag, ev.Data))
		}
	case KindError:
		p.Sink.Error(fmt.Sprintf("[%s Spawn Error] %v", tag, ev.Err))
	case KindTerminated:
		p.Sink.Info(fmt.Sprintf("[%s] Process terminated with status: %s", tag, ev.Status))
		return true
	}
	return false
}
