// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"testing"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		mode    spi.Mode
		wantErr bool
		wantLow bool
	}{
		{"mode0", spi.Mode0, false, false},
		{"mode2", spi.Mode2, false, true},
		{"mode1 rejected", spi.Mode1, true, false},
		{"mode3 rejected", spi.Mode3, true, false},
		{"mode0 nocs", spi.Mode0 | spi.NoCS, false, false},
	}
	for _, tt := range tests {
		sm, err := parseMode(tt.mode)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseMode(%v) should fail", tt.mode)
				continue
			}
			if _, ok := err.(*UnsupportedModeError); !ok {
				t.Errorf("parseMode(%v) error = %T, want *UnsupportedModeError", tt.mode, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMode(%v) = %v", tt.mode, err)
			continue
		}
		if sm.clkActiveLow != tt.wantLow {
			t.Errorf("parseMode(%v).clkActiveLow = %v, want %v", tt.mode, sm.clkActiveLow, tt.wantLow)
		}
	}
	if sm, err := parseMode(spi.Mode0 | spi.NoCS); err != nil || !sm.noCS {
		t.Errorf("parseMode(Mode0|NoCS) = %+v, %v, want noCS=true", sm, err)
	}
}

func TestCheckSpeed(t *testing.T) {
	tests := []struct {
		in      physic.Frequency
		want    physic.Frequency
		wantErr bool
	}{
		{30 * physic.MegaHertz, 30 * physic.MegaHertz, false},
		{60 * physic.MegaHertz, 30 * physic.MegaHertz, false}, // clamped down
		{1 * physic.MegaHertz, 1 * physic.MegaHertz, false},
		{10 * physic.Hertz, 0, true},  // below minimum
		{2 * physic.GigaHertz, 0, true}, // nonsensical, rejected outright
	}
	for _, tt := range tests {
		got, err := checkSpeed(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("checkSpeed(%s) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("checkSpeed(%s) = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("checkSpeed(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCheckBits(t *testing.T) {
	if err := checkBits(8); err != nil {
		t.Errorf("checkBits(8) = %v", err)
	}
	if err := checkBits(7); err == nil {
		t.Error("checkBits(7) should fail: not a multiple of 8")
	}
	if err := checkBits(16); err == nil {
		t.Error("checkBits(16) should fail: only 8 bits/word implemented")
	}
}

// TestSPIConnTxPacketsFullDuplex is end-to-end scenario 3: reading a JEDEC ID
// via a combined write/read packet.
func TestSPIConnTxPacketsFullDuplex(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0x9f, 0xef, 0x40, 0x18}}}
	ctrl := newFakeController(ft)
	conn := &spiMPSEEConn{f: &FT232H{ctrl: ctrl}}
	w := []byte{0x9f, 0, 0, 0}
	r := make([]byte, 4)
	if err := conn.Tx(w, r); err != nil {
		t.Fatalf("Tx() = %v", err)
	}
	want := []byte{0x9f, 0xef, 0x40, 0x18}
	for i := range want {
		if r[i] != want[i] {
			t.Errorf("r[%d] = %#x, want %#x", i, r[i], want[i])
		}
	}
	if len(ft.writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(ft.writes))
	}
}

func TestSPIHalfDuplexWriteRead(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0xaa, 0xbb}}}
	h := &SPIHalfDuplex{f: &FT232H{ctrl: newFakeController(ft)}}
	if err := h.Write([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	r := make([]byte, 2)
	if err := h.Read(r); err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if r[0] != 0xaa || r[1] != 0xbb {
		t.Errorf("Read() = %#v, want [0xaa 0xbb]", r)
	}
	if len(ft.writes) != 2 {
		t.Fatalf("got %d writes, want 2 (one for Write, one for Read)", len(ft.writes))
	}
}

func TestSPIDeviceTransaction(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0x55}}}
	d := &SPIDevice{f: &FT232H{ctrl: newFakeController(ft)}}
	r := make([]byte, 1)
	ops := []SPIOp{{W: []byte{0x03}}, {R: r}}
	if err := d.Transaction(ops); err != nil {
		t.Fatalf("Transaction() = %v", err)
	}
	if r[0] != 0x55 {
		t.Errorf("r[0] = %#x, want 0x55", r[0])
	}
}

func TestVerifyBuffersMismatchedLength(t *testing.T) {
	if err := verifyBuffers([]byte{1, 2}, []byte{1}); err == nil {
		t.Error("verifyBuffers() should reject mismatched W/R lengths")
	}
	if err := verifyBuffers([]byte{1}, []byte{1}); err != nil {
		t.Errorf("verifyBuffers() = %v, want nil for equal lengths", err)
	}
}
