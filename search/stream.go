package search

// EventKind tells which Monitor callback produced an Event.
type EventKind int

const (
	EventProgress EventKind = iota
	EventError
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventFinished:
		return "finished"
	}
	return "unknown"
}

// Event is one Monitor callback captured as a value.
type Event struct {
	Kind    EventKind
	Record  Record
	Count   int
	Path    string
	Err     error
	Outcome Outcome
}

// Stream is a Monitor that queues events without bound and hands them out on
// a channel, so the worker never waits on the consumer. The channel is closed
// after the Finished event; consumers should read until then.
type Stream struct {
	in  chan Event
	out chan Event
}

var _ Monitor = (*Stream)(nil)

// NewStream starts the queue. Pass it to a Job with WithMonitor.
func NewStream() *Stream {
	s := &Stream{
		in:  make(chan Event),
		out: make(chan Event),
	}
	go s.pump()
	return s
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.out
}

func (s *Stream) Progress(rec Record, count int) {
	s.in <- Event{Kind: EventProgress, Record: rec, Count: count}
}

func (s *Stream) Error(path string, err error) {
	s.in <- Event{Kind: EventError, Path: path, Err: err}
}

func (s *Stream) Finished(out Outcome) {
	s.in <- Event{Kind: EventFinished, Outcome: out}
	close(s.in)
}

func (s *Stream) pump() {
	defer close(s.out)

	var queue []Event
	in := s.in
	for in != nil || len(queue) > 0 {
		var (
			out  chan Event
			next Event
		)
		if len(queue) > 0 {
			out = s.out
			next = queue[0]
		}

		select {
		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, ev)
		case out <- next:
			queue[0] = Event{}
			queue = queue[1:]
		}
	}
}
