// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"testing"
)

// idcodeBitsLSBFirst returns the 32 bits of v, LSB first, matching how a
// JTAG TAP shifts its IDCODE register out onto TDO.
func idcodeBitsLSBFirst(v uint32) []bool {
	bits := make([]bool, 32)
	for i := range bits {
		bits[i] = (v>>uint(i))&1 == 1
	}
	return bits
}

// packBitsLSBFirst packs a bit stream into bytes, LSB first within each byte,
// matching ClockBytesInOut's jtagLSBFirst wire order; it pads the final byte
// with zero bits.
func packBitsLSBFirst(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// scanWithFakeChain builds a fakeTransport that answers JTAG.ScanWith's
// per-4-byte-shift reads with a chain of the given IDCODEs followed by the
// 32-zero end-of-chain sentinel.
func scanWithFakeChain(ids []uint32) *fakeTransport {
	var bits []bool
	for _, id := range ids {
		bits = append(bits, idcodeBitsLSBFirst(id)...)
	}
	for i := 0; i < 32; i++ {
		bits = append(bits, false)
	}
	// Pad to a multiple of 32 bits (4 bytes) so every 4-byte shift reply is
	// fully defined; ScanWith always reads in 4-byte increments.
	for len(bits)%32 != 0 {
		bits = append(bits, false)
	}
	packed := packBitsLSBFirst(bits)
	var reads [][]byte
	for i := 0; i < len(packed); i += 4 {
		reads = append(reads, packed[i:i+4])
	}
	return &fakeTransport{reads: reads}
}

// TestJTAGScanWithIDCODEParser is the property test the reviewer called for:
// given a TDO stream of k IDCODEs followed by 32 zeros, ScanWith must return
// exactly those k IDCODEs and no bypass markers.
func TestJTAGScanWithIDCODEParser(t *testing.T) {
	tests := [][]uint32{
		{0x3ba00477},
		{0x3ba00477, 0x4ba00477},
		{0x12345679, 0x0badf00d, 0xcafebabf},
		{},
	}
	for _, ids := range tests {
		ft := scanWithFakeChain(ids)
		j := &JTAG{ctrl: newFakeController(ft)}
		got, err := j.ScanWith(context.Background(), false)
		if err != nil {
			t.Fatalf("ScanWith(%v) = %v", ids, err)
		}
		if len(got) != len(ids) {
			t.Fatalf("ScanWith(%v) returned %d entries, want %d", ids, len(got), len(ids))
		}
		for i, want := range ids {
			if got[i] == nil {
				t.Errorf("ScanWith(%v)[%d] = nil, want %#x", ids, i, want)
				continue
			}
			if *got[i] != want {
				t.Errorf("ScanWith(%v)[%d] = %#x, want %#x", ids, i, *got[i], want)
			}
		}
	}
}

// TestJTAGScanWithSingleDeviceCortexM is end-to-end scenario 4: a
// single-device board with IDCODE 0x3BA00477 (ARM Cortex-M DAP).
func TestJTAGScanWithSingleDeviceCortexM(t *testing.T) {
	ft := scanWithFakeChain([]uint32{0x3ba00477})
	j := &JTAG{ctrl: newFakeController(ft)}
	got, err := j.ScanWith(context.Background(), true)
	if err != nil {
		t.Fatalf("ScanWith() = %v", err)
	}
	if len(got) != 1 || got[0] == nil || *got[0] != 0x3ba00477 {
		t.Fatalf("ScanWith() = %v, want [0x3ba00477]", got)
	}
}

func TestJtagParseSingleShift(t *testing.T) {
	tests := []struct {
		bitsCount int
		response  []byte
		wantN     int
		wantByte0 byte
	}{
		// 8 bits: exit TMS rides the 8th bit into byte[1] bit7; it becomes
		// bit 7 of byte 0.
		{8, []byte{0x00, 0x80}, 1, 0x80},
		{8, []byte{0xfe, 0x00}, 1, 0x7f},
		// 1 bit: entirely carried by the TMS-combined read's top bit.
		{1, []byte{0x80}, 1, 0x01},
		{1, []byte{0x00}, 1, 0x00},
		// 5 bits: low 4 bits arrive in the top nibble of byte 0 (bit-mode
		// reads fill from bit 7), high bit from the TMS byte.
		{5, []byte{0xf0, 0x00}, 1, 0x0f},
		{5, []byte{0xf0, 0x80}, 1, 0x1f},
	}
	for _, tt := range tests {
		resp := append([]byte{}, tt.response...)
		n := jtagParseSingleShift(resp, tt.bitsCount)
		if n != tt.wantN {
			t.Errorf("bitsCount=%d: n = %d, want %d", tt.bitsCount, n, tt.wantN)
		}
		if resp[0] != tt.wantByte0 {
			t.Errorf("bitsCount=%d: response[0] = %#x, want %#x", tt.bitsCount, resp[0], tt.wantByte0)
		}
	}
}

// TestJTAGWriteRead exercises Read against a fakeTransport, checking the
// length of the returned data and that the engine is left idle afterwards.
func TestJTAGWriteRead(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0x00, 0x80}}}
	j := &JTAG{ctrl: newFakeController(ft), idleCycleAfterUpdate: true}
	data, err := j.Read(context.Background(), []byte{0x01}, 4, 8)
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if len(data) != 1 {
		t.Fatalf("Read() returned %d bytes, want 1", len(data))
	}
	if !j.isIdle {
		t.Error("Read() should leave the TAP idle")
	}
}
