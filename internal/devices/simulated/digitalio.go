package simulated

import (
	"sync"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/errs"
)

// DigitalIO is a software-only digital I/O device backed by bitmasks
// in memory, matching the line-allocation/configure/read/write
// contract.
type DigitalIO struct {
	devices.Base

	mu      sync.Mutex
	nlines  int
	owners  map[int]string
	outputs map[int]bool
	values  uint32
}

func NewDigitalIO(nlines int) *DigitalIO {
	return &DigitalIO{nlines: nlines, owners: make(map[int]string), outputs: make(map[int]bool)}
}

func (d *DigitalIO) Open(path string, options map[string]any) error { d.SetOpen(true); return nil }
func (d *DigitalIO) Close() error                                   { d.SetOpen(false); return nil }
func (d *DigitalIO) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners = make(map[int]string)
	d.outputs = make(map[int]bool)
	d.values = 0
	return nil
}

func (d *DigitalIO) AllocateLine(line int, owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line < 0 || line >= d.nlines {
		return errs.InvalidChannel
	}
	if cur, ok := d.owners[line]; ok && cur != owner {
		return errs.Busy
	}
	d.owners[line] = owner
	return nil
}

func (d *DigitalIO) FreeLines(owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for line, o := range d.owners {
		if o == owner {
			delete(d.owners, line)
			delete(d.outputs, line)
		}
	}
}

func (d *DigitalIO) ConfigureLine(line int, output bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line < 0 || line >= d.nlines {
		return errs.InvalidChannel
	}
	d.outputs[line] = output
	return nil
}

func (d *DigitalIO) WriteLine(line int, val bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line < 0 || line >= d.nlines {
		return errs.InvalidChannel
	}
	if val {
		d.values |= 1 << uint(line)
	} else {
		d.values &^= 1 << uint(line)
	}
	return nil
}

func (d *DigitalIO) ReadLine(line int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line < 0 || line >= d.nlines {
		return false, errs.InvalidChannel
	}
	return d.values&(1<<uint(line)) != 0, nil
}

func (d *DigitalIO) WriteLines(mask, val uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = (d.values &^ mask) | (val & mask)
	return nil
}

func (d *DigitalIO) ReadLines(mask uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values & mask, nil
}

// SetSyncPulse/ClearSyncPulse are accepted and recorded but have no
// physical effect in simulation; real drivers program a hardware
// pulse generator here.
func (d *DigitalIO) SetSyncPulse(modeMask, modeBits uint32, line int, duration float64, mode int) error {
	return d.ConfigureLine(line, true)
}
func (d *DigitalIO) ClearSyncPulse(line int) error { return nil }
