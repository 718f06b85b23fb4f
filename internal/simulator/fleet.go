package simulator

import (
	"fmt"
	"time"

	"batterywatch/internal/telemetry"
)

// Fleet routes Source calls to per-battery simulators. Each battery owns its
// own state and random source, so fleets have no shared mutable globals.
type Fleet struct {
	batteries map[string]*Battery
}

// NewFleet builds a fleet from battery options.
func NewFleet(opts []Options) *Fleet {
	f := &Fleet{batteries: make(map[string]*Battery, len(opts))}
	for _, o := range opts {
		f.batteries[o.ID] = New(o)
	}
	return f
}

// Next produces the reading for one battery, or ok=false for unknown IDs.
func (f *Fleet) Next(batteryID string, now time.Time) (telemetry.Sample, bool) {
	b, ok := f.batteries[batteryID]
	if !ok {
		return telemetry.Sample{}, false
	}
	return b.Next(batteryID, now)
}

// InjectScenario queues a fault override for one battery, or for every
// battery when batteryID is empty.
func (f *Fleet) InjectScenario(batteryID string, s Scenario, ticks int) error {
	if batteryID == "" {
		for _, b := range f.batteries {
			b.InjectScenario(s, ticks)
		}
		return nil
	}
	b, ok := f.batteries[batteryID]
	if !ok {
		return fmt.Errorf("unknown battery %q", batteryID)
	}
	b.InjectScenario(s, ticks)
	return nil
}

// IDs lists the batteries in the fleet.
func (f *Fleet) IDs() []string {
	ids := make([]string, 0, len(f.batteries))
	for id := range f.batteries {
		ids = append(ids, id)
	}
	return ids
}

var _ telemetry.Source = (*Fleet)(nil)
