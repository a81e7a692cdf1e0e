// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "testing"

// legalShiftOpcodes is the exhaustive set of 30 opcodes the MPSSE engine
// accepts for a data/TMS shift, per the hardware application note.
var legalShiftOpcodes = map[byte]bool{
	0x10: true, 0x11: true, 0x12: true, 0x13: true,
	0x18: true, 0x19: true, 0x1a: true, 0x1b: true,
	0x20: true, 0x22: true, 0x24: true, 0x26: true,
	0x28: true, 0x2a: true, 0x2c: true, 0x2e: true,
	0x31: true, 0x33: true, 0x34: true, 0x36: true,
	0x39: true, 0x3b: true, 0x3c: true, 0x3e: true,
	0x4a: true, 0x4b: true, 0x6a: true, 0x6b: true,
	0x6e: true, 0x6f: true,
}

// TestShiftOpcodeLegal enumerates every (tckIdleHigh, write, read, bit,
// lsbFirst) combination with write||read and checks the opcode shiftOpcode
// derives is a member of the 30 legal MPSSE shift opcodes.
func TestShiftOpcodeLegal(t *testing.T) {
	seen := map[byte]bool{}
	for _, tckIdleHigh := range []bool{false, true} {
		for _, write := range []bool{false, true} {
			for _, read := range []bool{false, true} {
				if !write && !read {
					continue
				}
				for _, bit := range []bool{false, true} {
					for _, lsbFirst := range []bool{false, true} {
						op := shiftOpcode(tckIdleHigh, write, read, bit, lsbFirst)
						if !legalShiftOpcodes[op] {
							t.Errorf("shiftOpcode(idle=%v,w=%v,r=%v,bit=%v,lsb=%v) = %#x, not a legal MPSSE opcode",
								tckIdleHigh, write, read, bit, lsbFirst, op)
						}
						seen[op] = true
					}
				}
			}
		}
	}
	// shiftOpcode alone must account for the 24 non-TMS legal opcodes.
	want := 0
	for op := range legalShiftOpcodes {
		if op&dataTMS == 0 {
			want++
		}
	}
	if len(seen) != want {
		t.Errorf("shiftOpcode produced %d distinct opcodes, want %d", len(seen), want)
	}
}

// TestShiftOpcodeNeverSetsTMS guards against shiftOpcode ever being asked to
// drive the TMS pin; that is tmsShiftOpcode's job.
func TestShiftOpcodeNeverSetsTMS(t *testing.T) {
	for _, tckIdleHigh := range []bool{false, true} {
		for _, bit := range []bool{false, true} {
			op := shiftOpcode(tckIdleHigh, true, true, bit, false)
			if op&dataTMS != 0 {
				t.Errorf("shiftOpcode(...) = %#x unexpectedly set dataTMS", op)
			}
		}
	}
}

// TestTMSShiftOpcodeLegal is the regression test for the reviewed bug: a
// prior version of tmsShiftOpcode OR'd in dataOut (0x10), producing illegal
// opcodes with bit4 set (0x5a/0x5b/0x7a/0x7b/0x7e/0x7f) that the real device
// rejects with a BadOpcodeError. Every opcode tmsShiftOpcode can produce must
// be one of the six legal TMS-shift opcodes and must never set dataOut.
func TestTMSShiftOpcodeLegal(t *testing.T) {
	legalTMS := map[byte]bool{0x4a: true, 0x4b: true, 0x6a: true, 0x6b: true, 0x6e: true, 0x6f: true}
	for _, tckIdleHigh := range []bool{false, true} {
		for _, read := range []bool{false, true} {
			op := tmsShiftOpcode(tckIdleHigh, read)
			if op&dataOut != 0 {
				t.Errorf("tmsShiftOpcode(idle=%v,read=%v) = %#x sets dataOut (0x10); TMS is never an is_tdi_write shift",
					tckIdleHigh, read, op)
			}
			if op&dataTMS == 0 {
				t.Errorf("tmsShiftOpcode(idle=%v,read=%v) = %#x does not select the TMS pin", tckIdleHigh, read, op)
			}
			if !legalTMS[op] {
				t.Errorf("tmsShiftOpcode(idle=%v,read=%v) = %#x, not one of the 6 legal TMS opcodes", tckIdleHigh, read, op)
			}
			if !legalShiftOpcodes[op] {
				t.Errorf("tmsShiftOpcode(idle=%v,read=%v) = %#x, not in the overall 30-opcode legal set", tckIdleHigh, read, op)
			}
		}
	}
}

// TestResponseLenAccounting checks that responseLen always equals the number
// of bytes the device will reply with for a given builder call sequence.
func TestResponseLenAccounting(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *CommandBuilder)
		want int
	}{
		{"write-only-bytes", func(c *CommandBuilder) { c.ClockBytesOut(false, false, []byte{1, 2, 3}) }, 0},
		{"read-bytes", func(c *CommandBuilder) { c.ClockBytesIn(false, false, 5) }, 5},
		{"inout-bytes", func(c *CommandBuilder) { c.ClockBytesInOut(false, false, []byte{1, 2, 3, 4}) }, 4},
		{"gpio-reads", func(c *CommandBuilder) { c.GPIOLower(); c.GPIOUpper() }, 2},
		{"bits-out", func(c *CommandBuilder) { _ = c.ClockBitsOut(false, false, 0xaa, 3) }, 0},
		{"bits-in", func(c *CommandBuilder) { _ = c.ClockBitsIn(false, false, 5) }, 1},
		{"bits-inout", func(c *CommandBuilder) { _ = c.ClockBitsInOut(false, false, 0xaa, 5) }, 1},
		{"tms-out", func(c *CommandBuilder) { _ = c.ClockTMSOut(false, 0x5, 3, false) }, 0},
		{"tms-inout", func(c *CommandBuilder) { _ = c.ClockTMSInOut(false, 0x5, 3, false) }, 1},
		{
			"mixed-sequence",
			func(c *CommandBuilder) {
				c.GPIOLower()
				c.ClockBytesOut(false, false, []byte{1, 2})
				c.ClockBytesIn(false, false, 10)
				_ = c.ClockBitsIn(false, false, 4)
				_ = c.ClockTMSInOut(false, 0x1, 1, false)
			},
			1 + 10 + 1 + 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCommandBuilder()
			tt.run(c)
			if got := c.ReadLen(); got != tt.want {
				t.Errorf("ReadLen() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestByteShiftChunking checks that a shift longer than maxChunk is split
// into ceil(L/maxChunk) sub-commands whose lengths sum to L, and that
// concatenating the chunk payloads reproduces the original data.
func TestByteShiftChunking(t *testing.T) {
	lengths := []int{1, 100, maxChunk - 1, maxChunk, maxChunk + 1, maxChunk*2 + 37}
	for _, l := range lengths {
		data := make([]byte, l)
		for i := range data {
			data[i] = byte(i)
		}
		c := NewCommandBuilder()
		c.ClockBytesOut(false, false, data)

		wantChunks := (l + maxChunk - 1) / maxChunk
		buf := c.Bytes()
		var reconstructed []byte
		gotChunks := 0
		pos := 0
		for pos < len(buf) {
			op := buf[pos]
			n := int(buf[pos+1]) | int(buf[pos+2])<<8
			n++
			payload := buf[pos+3 : pos+3+n]
			reconstructed = append(reconstructed, payload...)
			gotChunks++
			if op&dataTMS != 0 {
				t.Fatalf("length %d: chunk opcode %#x unexpectedly selects TMS", l, op)
			}
			pos += 3 + n
		}
		if gotChunks != wantChunks {
			t.Errorf("length %d: got %d chunks, want %d", l, gotChunks, wantChunks)
		}
		if string(reconstructed) != string(data) {
			t.Errorf("length %d: reconstructed payload does not match original", l)
		}
		if c.ReadLen() != 0 {
			t.Errorf("length %d: write-only shift should not expect a read, got ReadLen()=%d", l, c.ReadLen())
		}
	}
}

// TestByteShiftChunkingRead mirrors TestByteShiftChunking for a read-only
// shift, where responseLen must track the chunked length instead.
func TestByteShiftChunkingRead(t *testing.T) {
	l := maxChunk + 100
	c := NewCommandBuilder()
	c.ClockBytesIn(false, false, l)
	if got := c.ReadLen(); got != l {
		t.Fatalf("ReadLen() = %d, want %d", got, l)
	}
	buf := c.Bytes()
	sum := 0
	pos := 0
	chunks := 0
	for pos < len(buf) {
		n := int(buf[pos+1]) | int(buf[pos+2])<<8
		n++
		sum += n
		chunks++
		pos += 3
	}
	if sum != l {
		t.Errorf("chunk lengths sum to %d, want %d", sum, l)
	}
	if chunks != 2 {
		t.Errorf("got %d chunks, want 2", chunks)
	}
}

func TestClockBitsOutRangeError(t *testing.T) {
	c := NewCommandBuilder()
	if err := c.ClockBitsOut(false, false, 0, 0); err == nil {
		t.Error("ClockBitsOut(nbits=0) should fail")
	}
	if err := c.ClockBitsOut(false, false, 0, 9); err == nil {
		t.Error("ClockBitsOut(nbits=9) should fail")
	}
}

func TestClockTMSRangeError(t *testing.T) {
	c := NewCommandBuilder()
	if err := c.ClockTMSOut(false, 0, 0, false); err == nil {
		t.Error("ClockTMSOut(nbits=0) should fail")
	}
	if err := c.ClockTMSOut(false, 0, 8, false); err == nil {
		t.Error("ClockTMSOut(nbits=8) should fail")
	}
}
