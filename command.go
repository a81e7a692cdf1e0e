// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "errors"

// dataTMS selects the TMS pin instead of the normal data pin for a shift
// opcode. Combined with the existing dataOut/dataIn/dataOutFall/dataInFall/
// dataLSBF/dataBit flags defined in mpsse.go, this fully determines the 30
// legal MPSSE shift opcodes.
const dataTMS byte = 0x40

// maxChunk is the largest byte-stream shift the MPSSE engine accepts in a
// single opcode (the 16-bit length field is sent as length-1).
const maxChunk = 65536

// CommandBuilder accumulates MPSSE opcodes into a single buffer to be sent
// to the device in one bulk write, tracking how many response bytes the
// device will emit so the matching read can be sized up front.
//
// A CommandBuilder is not safe for concurrent use; Controller serializes
// access to it behind a mutex.
type CommandBuilder struct {
	cmd         []byte
	responseLen int
}

// NewCommandBuilder returns an empty command builder.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// ReadLen returns the number of bytes the device will reply with once this
// command is executed.
func (c *CommandBuilder) ReadLen() int {
	return c.responseLen
}

// Bytes returns the accumulated opcode stream without a trailing flush.
func (c *CommandBuilder) Bytes() []byte {
	return c.cmd
}

// AsSlice appends a terminal send-immediate (flush) opcode and returns the
// full byte stream ready to be written to the device.
func (c *CommandBuilder) AsSlice() []byte {
	return append(append([]byte{}, c.cmd...), flush)
}

// shiftOpcode derives the MPSSE data-shift opcode byte for a byte/bit stream
// operating on TDI/TDO/SK, following the same edge law the hardware defines
// for every one of the 30 legal shift opcodes:
//
//	write_on_falling_edge = !tckIdleHigh && write
//	read_on_falling_edge  = tckIdleHigh && read
//
// tckIdleHigh is the idle level of the clock before this shift begins; write
// and read indicate whether data is clocked out, in, or both; bit selects
// bit-mode (1..8 bits) instead of byte-mode; lsbFirst selects LSB-first
// shifting.
func shiftOpcode(tckIdleHigh, write, read, bit, lsbFirst bool) byte {
	var op byte
	if bit {
		op |= dataBit
	}
	if lsbFirst {
		op |= dataLSBF
	}
	if write {
		op |= dataOut
		if !tckIdleHigh {
			op |= dataOutFall
		}
	}
	if read {
		op |= dataIn
		if tckIdleHigh {
			op |= dataInFall
		}
	}
	return op
}

// tmsShiftOpcode derives the MPSSE TMS-shift opcode byte. TMS is always
// written (the TAP state machine is driven by it), so the write-edge law
// collapses to the same falling-edge rule as shiftOpcode with write=true;
// read, when requested, samples TDO using the same idle-dependent rule.
func tmsShiftOpcode(tckIdleHigh, read bool) byte {
	op := dataTMS | dataBit | dataLSBF
	if !tckIdleHigh {
		op |= dataOutFall
	}
	if read {
		op |= dataIn
		if tckIdleHigh {
			op |= dataInFall
		}
	}
	return op
}

// SetGPIOLower queues a write of the lower (D) GPIO bank value and direction.
func (c *CommandBuilder) SetGPIOLower(value, direction byte) *CommandBuilder {
	c.cmd = append(c.cmd, gpioSetD, value, direction)
	return c
}

// SetGPIOUpper queues a write of the upper (C) GPIO bank value and direction.
func (c *CommandBuilder) SetGPIOUpper(value, direction byte) *CommandBuilder {
	c.cmd = append(c.cmd, gpioSetC, value, direction)
	return c
}

// GPIOLower queues a read of the lower (D) GPIO bank value.
func (c *CommandBuilder) GPIOLower() *CommandBuilder {
	c.cmd = append(c.cmd, gpioReadD)
	c.responseLen++
	return c
}

// GPIOUpper queues a read of the upper (C) GPIO bank value.
func (c *CommandBuilder) GPIOUpper() *CommandBuilder {
	c.cmd = append(c.cmd, gpioReadC)
	c.responseLen++
	return c
}

// EnableLoopback connects TDI and TDO internally, used by self-test and by
// the JTAG/SPI loopback test scenarios.
func (c *CommandBuilder) EnableLoopback(enable bool) *CommandBuilder {
	if enable {
		c.cmd = append(c.cmd, internalLoopbackEnable)
	} else {
		c.cmd = append(c.cmd, internalLoopbackDisable)
	}
	return c
}

// Enable3PhaseClocking selects 3-phase clocking (data valid on both clock
// edges), required for I²C.
func (c *CommandBuilder) Enable3PhaseClocking(enable bool) *CommandBuilder {
	if enable {
		c.cmd = append(c.cmd, clock3Phase)
	} else {
		c.cmd = append(c.cmd, clock2Phase)
	}
	return c
}

// EnableAdaptiveClocking selects adaptive clocking, where the controller
// waits for an RTCK acknowledgement pulse between clocks. Used by JTAG.
func (c *CommandBuilder) EnableAdaptiveClocking(enable bool) *CommandBuilder {
	if enable {
		c.cmd = append(c.cmd, clockAdaptive)
	} else {
		c.cmd = append(c.cmd, clockNormal)
	}
	return c
}

// SetClockDivisor queues a clock divisor change. highSpeed selects the
// undivided 30MHz base clock instead of 6MHz.
func (c *CommandBuilder) SetClockDivisor(highSpeed bool, divisor uint16) *CommandBuilder {
	if highSpeed {
		c.cmd = append(c.cmd, clock30MHz)
	} else {
		c.cmd = append(c.cmd, clock6MHz)
	}
	c.cmd = append(c.cmd, clockSetDivisor, byte(divisor), byte(divisor>>8))
	return c
}

// ClockBytesOut queues a full-duplex-capable byte stream write on TDI/DO,
// chunked into MPSSE-legal segments of at most 65536 bytes each.
func (c *CommandBuilder) ClockBytesOut(tckIdleHigh, lsbFirst bool, data []byte) *CommandBuilder {
	op := shiftOpcode(tckIdleHigh, true, false, false, lsbFirst)
	c.appendChunked(op, data, nil)
	return c
}

// ClockBytesIn queues a byte stream read on TDO/DI of the given length.
func (c *CommandBuilder) ClockBytesIn(tckIdleHigh, lsbFirst bool, n int) *CommandBuilder {
	op := shiftOpcode(tckIdleHigh, false, true, false, lsbFirst)
	c.appendChunked(op, nil, lenFiller(n))
	return c
}

// ClockBytesInOut queues a simultaneous write and read byte stream of equal
// length.
func (c *CommandBuilder) ClockBytesInOut(tckIdleHigh, lsbFirst bool, data []byte) *CommandBuilder {
	op := shiftOpcode(tckIdleHigh, true, true, false, lsbFirst)
	c.appendChunked(op, data, nil)
	return c
}

// appendChunked splits a byte-mode shift into MPSSE-legal chunks, each
// prefixed by its own opcode and length-minus-one header. readLen, when
// non-nil, supplies the length of a read-only shift (data is nil).
func (c *CommandBuilder) appendChunked(op byte, data []byte, readLen []int) {
	if data != nil {
		for len(data) > 0 {
			n := len(data)
			if n > maxChunk {
				n = maxChunk
			}
			chunk := data[:n]
			c.cmd = append(c.cmd, op, byte(n-1), byte((n-1)>>8))
			c.cmd = append(c.cmd, chunk...)
			if op&dataIn != 0 {
				c.responseLen += n
			}
			data = data[n:]
		}
		return
	}
	for _, n := range readLen {
		for n > 0 {
			chunk := n
			if chunk > maxChunk {
				chunk = maxChunk
			}
			c.cmd = append(c.cmd, op, byte(chunk-1), byte((chunk-1)>>8))
			c.responseLen += chunk
			n -= chunk
		}
	}
}

func lenFiller(n int) []int { return []int{n} }

// ClockBitsOut queues a write of 1..8 bits on TDI/DO.
func (c *CommandBuilder) ClockBitsOut(tckIdleHigh, lsbFirst bool, data byte, nbits int) error {
	if nbits < 1 || nbits > 8 {
		return errors.New("ftdi: bit count must be within [1, 8]")
	}
	op := shiftOpcode(tckIdleHigh, true, false, true, lsbFirst)
	c.cmd = append(c.cmd, op, byte(nbits-1), data)
	return nil
}

// ClockBitsIn queues a read of 1..8 bits on TDO/DI.
func (c *CommandBuilder) ClockBitsIn(tckIdleHigh, lsbFirst bool, nbits int) error {
	if nbits < 1 || nbits > 8 {
		return errors.New("ftdi: bit count must be within [1, 8]")
	}
	op := shiftOpcode(tckIdleHigh, false, true, true, lsbFirst)
	c.cmd = append(c.cmd, op, byte(nbits-1))
	c.responseLen++
	return nil
}

// ClockBitsInOut queues a simultaneous write and read of 1..8 bits.
func (c *CommandBuilder) ClockBitsInOut(tckIdleHigh, lsbFirst bool, data byte, nbits int) error {
	if nbits < 1 || nbits > 8 {
		return errors.New("ftdi: bit count must be within [1, 8]")
	}
	op := shiftOpcode(tckIdleHigh, true, true, true, lsbFirst)
	c.cmd = append(c.cmd, op, byte(nbits-1), data)
	c.responseLen++
	return nil
}

// ClockTMSOut queues a TMS shift of 1..7 bits, with tdi held static for the
// duration (bit 7 of data) as required by the hardware.
func (c *CommandBuilder) ClockTMSOut(tckIdleHigh bool, tmsBits byte, nbits int, tdi bool) error {
	if nbits < 1 || nbits > 7 {
		return errors.New("ftdi: tms bit count must be within [1, 7]")
	}
	op := tmsShiftOpcode(tckIdleHigh, false)
	data := tmsBits & (1<<uint(nbits) - 1)
	if tdi {
		data |= 0x80
	}
	c.cmd = append(c.cmd, op, byte(nbits-1), data)
	return nil
}

// ClockTMSInOut queues a TMS shift of 1..7 bits while also sampling TDO once
// at the end of the shift, as used by the JTAG shift-exit sequence.
func (c *CommandBuilder) ClockTMSInOut(tckIdleHigh bool, tmsBits byte, nbits int, tdi bool) error {
	if nbits < 1 || nbits > 7 {
		return errors.New("ftdi: tms bit count must be within [1, 7]")
	}
	op := tmsShiftOpcode(tckIdleHigh, true)
	data := tmsBits & (1<<uint(nbits) - 1)
	if tdi {
		data |= 0x80
	}
	c.cmd = append(c.cmd, op, byte(nbits-1), data)
	c.responseLen++
	return nil
}

// Flush appends a send-immediate opcode without terminating the builder,
// useful when a caller needs to force an early reply mid-sequence (as the
// I²C master does to read back an ACK bit before continuing).
func (c *CommandBuilder) Flush() *CommandBuilder {
	c.cmd = append(c.cmd, flush)
	return c
}
