package market

import (
	"fmt"
	"time"
)

// Request declares a handler's interest in a data source: preload pulls a
// window of past data before the run, stream subscribes to the replay.
// At least one of the two must be set.
type Request struct {
	Info    EventInfo
	Preload time.Duration
	Stream  bool
}

// Validate checks that the request asks for something.
func (r Request) Validate() error {
	if r.Preload <= 0 && !r.Stream {
		return fmt.Errorf("%w: %s", ErrEmptyRequest, r.Info)
	}
	return nil
}

// WantsPreload reports whether the request carries a preload window.
func (r Request) WantsPreload() bool { return r.Preload > 0 }
