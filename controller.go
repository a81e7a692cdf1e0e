// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"errors"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// Controller owns the transport and the pin usage table for one MPSSE
// channel, and serializes every protocol engine's access to both behind a
// single mutex. I2C, SPI, JTAG and SWD each allocate the pins they need from
// a Controller and submit CommandBuilder batches through it; none of them
// talk to the transport directly.
type Controller struct {
	mu      sync.Mutex
	t       transport
	chip    DevType
	channel Interface
	dbus    *gpiosMPSSE
	cbus    *gpiosMPSSE

	usage [2][8]PinUsage

	// tckIdleHigh records the inactive level the clock was last parked at,
	// since the shift opcode required to drive a given edge depends on it and
	// the device offers no way to read it back.
	tckIdleHigh bool
}

// newController wires a Controller on top of the handle's existing d2xx
// transport and GPIO bank caches.
func newController(h *handle, chip DevType, channel Interface, dbus, cbus *gpiosMPSSE) *Controller {
	return &Controller{
		t:       &d2xxTransport{h: h},
		chip:    chip,
		channel: channel,
		dbus:    dbus,
		cbus:    cbus,
	}
}

func (c *Controller) bank(b PinBank) *gpiosMPSSE {
	if b == BankUpper {
		return c.cbus
	}
	return c.dbus
}

// AllocPin reserves a pin for a given usage, failing if it is already held by
// a different usage. Allocating a pin that already holds the same usage is a
// no-op, since protocol engines routinely re-assert ownership of pins they
// already hold (e.g. re-entering a transaction).
func (c *Controller) AllocPin(p Pin, usage PinUsage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	bank := c.bank(p.Bank)
	if bank == nil || p.Index < 0 || p.Index > 7 {
		return &PinOutOfRangeError{Chip: c.chip, Channel: c.channel, Pin: p}
	}
	existing := c.usage[p.Bank][p.Index]
	if existing != PinUsageNone && existing != usage {
		return &PinInUseError{Pin: p, Requested: usage, Existing: existing}
	}
	c.usage[p.Bank][p.Index] = usage
	return nil
}

// FreePin releases a pin previously reserved with AllocPin: it clears the
// pin's usage, clears its direction and value bits and commits the bank, so
// the pin returns to input/low on the wire. Freeing an unallocated pin is
// allowed; a failed commit is logged, not returned.
func (c *Controller) FreePin(p Pin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage[p.Bank][p.Index] = PinUsageNone
	if g := c.bank(p.Bank); g != nil {
		g.direction &^= p.mask()
		g.value &^= p.mask()
		if err := g.commit(); err != nil {
			logf("ftdi: freeing %s: %v", p, err)
		}
	}
}

// PinUsageOf reports what a pin is currently allocated for.
func (c *Controller) PinUsageOf(p Pin) PinUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage[p.Bank][p.Index]
}

// SetBankState mutates a bank's cached direction/value bits for the given
// mask, preserving every bit outside of it, and commits the result to the
// device. Protocol engines use this to bring their pins to a known idle
// state without disturbing pins owned by other engines.
func (c *Controller) SetBankState(bank PinBank, mask, direction, value byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.bank(bank)
	g.direction = g.direction&^mask | direction&mask
	g.value = g.value&^mask | value&mask
	return g.commit()
}

// BankState returns a bank's current cached direction and value bytes.
func (c *Controller) BankState(bank PinBank) (direction, value byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.bank(bank)
	return g.direction, g.value
}

// Exec writes a command batch to the device and reads back exactly as many
// bytes as the builder recorded as its response length.
func (c *Controller) Exec(ctx context.Context, cmd *CommandBuilder) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec(ctx, cmd)
}

// exec is the lock-free core of Exec, used internally by methods that
// already hold c.mu so they can batch multiple command phases under one
// critical section.
func (c *Controller) exec(ctx context.Context, cmd *CommandBuilder) ([]byte, error) {
	out := make([]byte, cmd.ReadLen())
	if err := c.t.exchange(ctx, cmd.AsSlice(), out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetFrequency programs the MPSSE clock divisor ceil(base/f)-1 and returns
// the actual frequency obtained, using the two-tier (30MHz base, or 6MHz
// with the ÷5 prescaler, 16-bit divisor) derivation of the FTDI MPSSE
// family. A frequency above 30MHz or below the 6MHz tier's minimum is
// clamped to that boundary and a warning is logged.
func (c *Controller) SetFrequency(ctx context.Context, f physic.Frequency) (physic.Frequency, error) {
	if f <= 0 {
		return 0, errors.New("ftdi: invalid frequency")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	highSpeed := true
	base := 30 * physic.MegaHertz
	if f > base {
		logf("ftdi: clock frequency %s above %s; clamped", f, base)
		f = base
	}
	div := (base + f - 1) / f
	if div > 65536 {
		highSpeed = false
		base /= 5
		div = (base + f - 1) / f
		if div > 65536 {
			logf("ftdi: clock frequency %s too low; clamped", f)
			div = 65536
		}
	}
	if div < 1 {
		div = 1
	}
	cmd := NewCommandBuilder()
	cmd.SetClockDivisor(highSpeed, uint16(div-1))
	if _, err := c.exec(ctx, cmd); err != nil {
		return 0, err
	}
	return base / div, nil
}

// SetIdleClockHigh records (without touching the device) whether the clock
// is parked high between transactions; shiftOpcode/tmsShiftOpcode need this
// to derive the correct edge-sensitive opcode for the next shift.
func (c *Controller) SetIdleClockHigh(idleHigh bool) {
	c.mu.Lock()
	c.tckIdleHigh = idleHigh
	c.mu.Unlock()
}

// IdleClockHigh returns the clock idle level last recorded by
// SetIdleClockHigh, defaulting to false (idle low), the MPSSE engine's
// power-on state.
func (c *Controller) IdleClockHigh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tckIdleHigh
}
