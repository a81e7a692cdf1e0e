// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"testing"

	"periph.io/x/conn/v3/physic"
)

// TestPinAllocFreeRoundTrip checks that allocating then freeing a pin leaves
// the registry identical to its pre-call state.
func TestPinAllocFreeRoundTrip(t *testing.T) {
	c := newFakeController(&fakeTransport{})
	p := Lower(3)
	if got := c.PinUsageOf(p); got != PinUsageNone {
		t.Fatalf("pre-condition: PinUsageOf() = %s, want none", got)
	}
	if err := c.AllocPin(p, PinUsageI2C); err != nil {
		t.Fatalf("AllocPin() = %v", err)
	}
	if got := c.PinUsageOf(p); got != PinUsageI2C {
		t.Fatalf("PinUsageOf() = %s, want i2c", got)
	}
	c.FreePin(p)
	if got := c.PinUsageOf(p); got != PinUsageNone {
		t.Fatalf("PinUsageOf() after free = %s, want none", got)
	}
}

// TestPinAllocSameUsageIsNoop checks re-asserting the same usage on an
// already-allocated pin succeeds.
func TestPinAllocSameUsageIsNoop(t *testing.T) {
	c := newFakeController(&fakeTransport{})
	p := Upper(2)
	if err := c.AllocPin(p, PinUsageSpi); err != nil {
		t.Fatalf("first AllocPin() = %v", err)
	}
	if err := c.AllocPin(p, PinUsageSpi); err != nil {
		t.Fatalf("re-AllocPin() with the same usage should succeed, got %v", err)
	}
	if got := c.PinUsageOf(p); got != PinUsageSpi {
		t.Fatalf("PinUsageOf() = %s, want spi", got)
	}
}

// TestPinDoubleAllocationFails checks that allocating a pin already held by a
// different usage fails with PinInUseError and leaves state untouched.
func TestPinDoubleAllocationFails(t *testing.T) {
	c := newFakeController(&fakeTransport{})
	p := Lower(0)
	if err := c.AllocPin(p, PinUsageI2C); err != nil {
		t.Fatalf("AllocPin() = %v", err)
	}
	err := c.AllocPin(p, PinUsageSpi)
	var inUse *PinInUseError
	if err == nil {
		t.Fatal("AllocPin() with a conflicting usage should fail")
	}
	var ok bool
	if inUse, ok = err.(*PinInUseError); !ok {
		t.Fatalf("AllocPin() error = %T, want *PinInUseError", err)
	}
	if inUse.Existing != PinUsageI2C || inUse.Requested != PinUsageSpi {
		t.Errorf("PinInUseError = %+v, want Existing=i2c Requested=spi", inUse)
	}
	if got := c.PinUsageOf(p); got != PinUsageI2C {
		t.Errorf("PinUsageOf() after failed alloc = %s, want unchanged i2c", got)
	}
}

func TestPinOutOfRange(t *testing.T) {
	c := newFakeController(&fakeTransport{})
	if err := c.AllocPin(Pin{Bank: BankLower, Index: 8}, PinUsageInput); err == nil {
		t.Error("AllocPin() with an out-of-range index should fail")
	} else if _, ok := err.(*PinOutOfRangeError); !ok {
		t.Errorf("AllocPin() error = %T, want *PinOutOfRangeError", err)
	}
}

// TestExecWritesAndReadsThroughTransport checks Exec sizes its read exactly
// to the builder's recorded response length and returns the scripted bytes.
func TestExecWritesAndReadsThroughTransport(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0x42, 0x43}}}
	c := newFakeController(ft)
	cmd := NewCommandBuilder()
	cmd.ClockBytesIn(false, false, 2)
	resp, err := c.Exec(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Exec() = %v", err)
	}
	if string(resp) != "\x42\x43" {
		t.Errorf("Exec() = %#v, want [0x42, 0x43]", resp)
	}
	if len(ft.writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(ft.writes))
	}
	if ft.writes[0][len(ft.writes[0])-1] != flush {
		t.Error("Exec() did not terminate the command stream with a flush opcode")
	}
}

// TestSetFrequency checks the two-tier (30MHz/6MHz base, 16-bit divisor)
// derivation against a few representative targets.
func TestSetFrequency(t *testing.T) {
	tests := []struct {
		name string
		freq physic.Frequency
		want physic.Frequency
	}{
		{"30MHz exact", 30 * physic.MegaHertz, 30 * physic.MegaHertz},
		{"15MHz half", 15 * physic.MegaHertz, 15 * physic.MegaHertz},
		{"100kHz stays high-speed", 100 * physic.KiloHertz, 100 * physic.KiloHertz},
		{"1MHz", 1 * physic.MegaHertz, 1 * physic.MegaHertz},
		{"400Hz falls to low-speed base", 400 * physic.Hertz, 400 * physic.Hertz},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{}
			c := newFakeController(ft)
			got, err := c.SetFrequency(context.Background(), tt.freq)
			if err != nil {
				t.Fatalf("SetFrequency() = %v", err)
			}
			if got != tt.want {
				t.Errorf("SetFrequency(%s) = %s, want %s", tt.freq, got, tt.want)
			}
			if len(ft.writes) != 1 {
				t.Fatalf("got %d writes, want 1", len(ft.writes))
			}
		})
	}
}

func TestSetFrequencyRejectsNonPositive(t *testing.T) {
	c := newFakeController(&fakeTransport{})
	if _, err := c.SetFrequency(context.Background(), 0); err == nil {
		t.Error("SetFrequency(0) should fail")
	}
}

func TestIdleClockHighDefaultsFalse(t *testing.T) {
	c := newFakeController(&fakeTransport{})
	if c.IdleClockHigh() {
		t.Error("IdleClockHigh() should default to false")
	}
	c.SetIdleClockHigh(true)
	if !c.IdleClockHigh() {
		t.Error("IdleClockHigh() should reflect SetIdleClockHigh(true)")
	}
}
