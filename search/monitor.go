package search

// Monitor observes a running Job. All methods are called from the job's worker
// goroutine, in order, so an implementation that blocks also stalls the scan.
// Use a Stream to decouple a slow consumer.
type Monitor interface {
	// Progress is called once per match with the running match count.
	Progress(rec Record, count int)
	// Error reports a file that could not be enumerated, opened or read.
	Error(path string, err error)
	// Finished is called exactly once, last.
	Finished(out Outcome)
}

// MonitorFuncs adapts optional callbacks to the Monitor interface.
type MonitorFuncs struct {
	OnProgress func(Record, int)
	OnError    func(string, error)
	OnFinished func(Outcome)
}

var _ Monitor = MonitorFuncs{}

func (m MonitorFuncs) Progress(rec Record, count int) {
	if m.OnProgress != nil {
		m.OnProgress(rec, count)
	}
}

func (m MonitorFuncs) Error(path string, err error) {
	if m.OnError != nil {
		m.OnError(path, err)
	}
}

func (m MonitorFuncs) Finished(out Outcome) {
	if m.OnFinished != nil {
		m.OnFinished(out)
	}
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Progress(_ Record, _ int) {}
func (n *noopMonitor) Error(_ string, _ error)  {}
func (n *noopMonitor) Finished(_ Outcome)       {}

// monitors fans events out to several monitors in registration order.
type monitors []Monitor

func (ms monitors) Progress(rec Record, count int) {
	for _, m := range ms {
		m.Progress(rec, count)
	}
}

func (ms monitors) Error(path string, err error) {
	for _, m := range ms {
		m.Error(path, err)
	}
}

func (ms monitors) Finished(out Outcome) {
	for _, m := range ms {
		m.Finished(out)
	}
}
