package cli

import (
	"github.com/Paintersrp/thrash/internal/engine"
	"github.com/Paintersrp/thrash/internal/logmux"
)

// trackEvents feeds every event through the status tracker. Worker log lines
// pass through a log mux so a slow consumer sheds log lines rather than
// stalling supervisors; lifecycle events are never dropped. The returned
// channel closes after events is closed and drained.
func (c *context) trackEvents(events <-chan engine.Event, buffer int) <-chan engine.Event {
	tracker := c.statusTracker()
	if buffer <= 0 {
		buffer = 1
	}

	out := make(chan engine.Event, buffer)
	logMux := logmux.New(buffer)
	logInput := make(chan engine.Event, buffer)
	logMux.Add(logInput)
	logOutput := logMux.Output()

	go func() {
		defer close(out)

		eventsCh := events
		for eventsCh != nil || logOutput != nil {
			select {
			case evt, ok := <-eventsCh:
				if !ok {
					eventsCh = nil
					close(logInput)
					// Close blocks on pending drop notices, which this loop
					// still has to receive.
					go logMux.Close()
					continue
				}
				if evt.Type == engine.EventTypeLog {
					logInput <- evt
					continue
				}
				tracker.Apply(evt)
				out <- evt
			case evt, ok := <-logOutput:
				if !ok {
					logOutput = nil
					continue
				}
				tracker.Apply(evt)
				out <- evt
			}
		}
	}()

	return out
}
