package simulated

import (
	"sync"

	"github.com/relacs/relacsd/internal/devices"
)

// Trigger is a software trigger device holding up to 5 hoops (SetHoops
// drops any beyond the fifth). Feed evaluates only the hoop at the
// current stage, and the stage never advances past the first hoop;
// a hoop's Delay, Width and OnPeak action are not evaluated.
type Trigger struct {
	devices.Base

	mu       sync.Mutex
	hoops    []devices.Hoop
	active   bool
	stage    int
	High     bool
}

func NewTrigger() *Trigger { return &Trigger{} }

func (t *Trigger) Open(path string, options map[string]any) error { t.SetOpen(true); return nil }
func (t *Trigger) Close() error                                   { t.SetOpen(false); return nil }
func (t *Trigger) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = 0
	t.High = false
	return nil
}

func (t *Trigger) SetHoops(hoops []devices.Hoop) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(hoops) > 5 {
		hoops = hoops[:5]
	}
	t.hoops = hoops
	t.stage = 0
	return nil
}

func (t *Trigger) Activate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.stage = 0
	return nil
}

func (t *Trigger) Disable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.High = false
	return nil
}

// Feed applies the first hoop to one new sample value and returns
// whether the output level is currently high: OnCrossing when value
// >= Level, OnTrough when value < Level. The level test is applied to
// every sample, not only at the sample where the level is crossed.
func (t *Trigger) Feed(value float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || len(t.hoops) == 0 {
		return t.High
	}
	h := t.hoops[t.stage%len(t.hoops)]
	switch {
	case value >= h.Level:
		t.applyAction(h.OnCrossing)
	case value < h.Level:
		t.applyAction(h.OnTrough)
	}
	return t.High
}

func (t *Trigger) applyAction(a devices.HoopAction) {
	switch a {
	case devices.SetHigh:
		t.High = true
	case devices.SetLow:
		t.High = false
	}
}
