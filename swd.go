// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Serial Wire Debug (ARM ADIv5) bit-banged over MPSSE.
//
// SWCLK is D0. SWDIO is split across two MPSSE-dedicated shift pins wired
// together externally: D1 (TDI, output-only) drives the line, D2 (TDO,
// input-only) samples it. Every phase of a transaction explicitly switches
// which of the two is active by toggling their GPIO direction bits, which
// is also how an external tri-state level-shifter's direction-select pin
// (set via SetDirectionPin) is kept in sync with the bus turnaround.

package ftdi

import (
	"context"
	"encoding/binary"
	"math/bits"
)

const (
	swdSWCLKMask = 1 << 0
	swdSWDIOMask = 1 << 1
)

const (
	swdAckSuccess = 0b001
	swdAckWait    = 0b010
	swdAckFailed  = 0b100
)

var (
	swdSWCLK    = Lower(0)
	swdSWDIOOut = Lower(1)
	swdSWDIOIn  = Lower(2)
)

// SwdPort selects the Debug Port or Access Port address space for an SWD
// transaction.
type SwdPort int

const (
	DP SwdPort = iota
	AP
)

// SwdAddr is an SWD register address: the AP/DP selector plus Reg, the
// register's byte offset (0x0, 0x4, 0x8 or 0xC), whose bits 3:2 become the
// request packet's A[3:2] field.
type SwdAddr struct {
	Port SwdPort
	Reg  byte
}

// bits packs the address into the 2-bit field (and AP/DP bit) of an SWD
// request packet, per ADIv5 figure 4-4.
func (a SwdAddr) bits() byte {
	const addrMask = 0b11 << 3
	b := (a.Reg << 1) & addrMask
	if a.Port == AP {
		b |= 1 << 1
	}
	return b
}

// SWD drives an ARM SWD target using D0 (SWCLK), D1 (SWDIO out) and D2
// (SWDIO in).
type SWD struct {
	ctrl         *Controller
	directionPin *Pin
}

// newSWD allocates SWCLK/SWDIO-out/SWDIO-in on the lower bank.
func newSWD(ctrl *Controller) (*SWD, error) {
	for _, p := range [...]Pin{swdSWCLK, swdSWDIOOut, swdSWDIOIn} {
		if err := ctrl.AllocPin(p, PinUsageSwd); err != nil {
			return nil, err
		}
	}
	return &SWD{ctrl: ctrl}, nil
}

// Close releases the pins this engine claimed, including the direction pin
// if one was set.
func (s *SWD) Close() error {
	for _, p := range [...]Pin{swdSWCLK, swdSWDIOOut, swdSWDIOIn} {
		s.ctrl.FreePin(p)
	}
	if s.directionPin != nil {
		s.ctrl.FreePin(*s.directionPin)
	}
	return nil
}

// SetDirectionPin designates an extra GPIO as the direction-select line of
// an external SWDIO level-shifter/buffer: high while the host drives the
// bus, low while it listens. Pass it again with a different pin to move it;
// there is no way to remove it once set other than Close.
func (s *SWD) SetDirectionPin(p Pin) error {
	if err := s.ctrl.AllocPin(p, PinUsageSwd); err != nil {
		return err
	}
	if s.directionPin != nil && *s.directionPin != p {
		s.ctrl.FreePin(*s.directionPin)
	}
	direction, value := s.ctrl.BankState(p.Bank)
	if err := s.ctrl.SetBankState(p.Bank, p.mask(), direction|p.mask(), value); err != nil {
		return err
	}
	s.directionPin = &p
	return nil
}

// swdOut points SWDIO at the host, asserting the external buffer's
// direction-select pin (if any) to "drive".
func (s *SWD) swdOut(cmd *CommandBuilder) {
	lowerDir, lowerVal := s.ctrl.BankState(BankLower)
	mask := byte(swdSWCLKMask | swdSWDIOMask)
	if s.directionPin != nil && s.directionPin.Bank == BankUpper {
		cmd.SetGPIOLower(lowerVal, lowerDir|mask)
		upperDir, upperVal := s.ctrl.BankState(BankUpper)
		cmd.SetGPIOUpper(upperVal|s.directionPin.mask(), upperDir)
		return
	}
	v := lowerVal
	if s.directionPin != nil {
		v |= s.directionPin.mask()
	}
	cmd.SetGPIOLower(v, lowerDir|mask)
}

// swdIn points SWDIO at the target, de-asserting the external buffer's
// direction-select pin (if any) to "listen".
func (s *SWD) swdIn(cmd *CommandBuilder) {
	if s.directionPin != nil && s.directionPin.Bank == BankUpper {
		upperDir, upperVal := s.ctrl.BankState(BankUpper)
		cmd.SetGPIOUpper(upperVal, upperDir)
	}
	lowerDir, lowerVal := s.ctrl.BankState(BankLower)
	cmd.SetGPIOLower(lowerVal, lowerDir|swdSWCLKMask)
}

// trn clocks a single turnaround cycle with the bus released.
func (s *SWD) trn(cmd *CommandBuilder) {
	s.swdIn(cmd)
	_ = cmd.ClockBitsOut(jtagTCKIdleHigh, true, 0xff, 1)
}

// swdLineReset holds the line high for at least 50 clocks followed by at
// least 2 idle (low) clocks, per ADIv5 section B4.3.3.
func (s *SWD) swdLineReset(cmd *CommandBuilder) {
	ones := make([]byte, 7)
	for i := range ones {
		ones[i] = 0xff
	}
	s.swdOut(cmd)
	cmd.ClockBytesOut(jtagTCKIdleHigh, true, ones)
	_ = cmd.ClockBitsOut(jtagTCKIdleHigh, true, 0, 2)
}

// swdEnable sends the JTAG-to-SWD activation dongle: >=50 ones, the select
// sequence 0xE79E (0x79E7 transmitted MSB-first, equivalently 0xE79E
// LSB-first), then a line reset.
func (s *SWD) swdEnable(cmd *CommandBuilder) {
	ones := make([]byte, 7)
	for i := range ones {
		ones[i] = 0xff
	}
	var sequence [2]byte
	binary.LittleEndian.PutUint16(sequence[:], 0xe79e)
	s.swdOut(cmd)
	cmd.ClockBytesOut(jtagTCKIdleHigh, true, ones)
	cmd.ClockBytesOut(jtagTCKIdleHigh, true, sequence[:])
	s.swdLineReset(cmd)
}

func (s *SWD) swdSendRequest(cmd *CommandBuilder, request byte) {
	s.swdOut(cmd)
	cmd.ClockBytesOut(jtagTCKIdleHigh, true, []byte{request})
}

func (s *SWD) swdReadResponse(cmd *CommandBuilder) {
	s.swdIn(cmd)
	_ = cmd.ClockBitsIn(jtagTCKIdleHigh, true, 3)
}

func (s *SWD) swdReadData(cmd *CommandBuilder) {
	s.swdIn(cmd)
	cmd.ClockBytesIn(jtagTCKIdleHigh, true, 4)
	_ = cmd.ClockBitsIn(jtagTCKIdleHigh, true, 1)
}

func (s *SWD) swdWriteData(cmd *CommandBuilder, value uint32) {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], value)
	parity := byte(bits.OnesCount32(value) & 1)
	s.swdOut(cmd)
	cmd.ClockBytesOut(jtagTCKIdleHigh, true, data[:])
	_ = cmd.ClockBitsOut(jtagTCKIdleHigh, true, parity, 1)
}

// buildRequest packs an 8-bit SWD request packet: Start(1), APnDP, RnW,
// A[3:2], Parity, Stop(0), Park(1), LSB-first.
func buildRequest(isRead bool, addr SwdAddr) byte {
	const startMask = 1 << 0
	const readMask = 1 << 2
	const parityMask = 1 << 5
	const parkMask = 1 << 7
	request := byte(startMask | parkMask)
	if isRead {
		request |= readMask
	}
	request |= addr.bits()
	if bits.OnesCount8((request>>1)&0x0f)%2 != 0 {
		request |= parityMask
	}
	return request
}

// Enable sends the SWD activation sequence: the line must already be idle
// (clock low, data released) before this is called.
func (s *SWD) Enable(ctx context.Context) error {
	cmd := NewCommandBuilder()
	s.swdEnable(cmd)
	_, err := s.ctrl.Exec(ctx, cmd)
	return err
}

func ackError(ack byte) error {
	switch ack {
	case swdAckWait:
		return &AckWaitError{}
	case swdAckFailed:
		return &AckFaultError{}
	default:
		return &AckUnknownError{Bits: ack}
	}
}

// Read performs an SWD read transaction, checking the ACK and the trailing
// parity bit of the 32-bit data phase.
func (s *SWD) Read(ctx context.Context, addr SwdAddr) (uint32, error) {
	request := buildRequest(true, addr)
	cmd := NewCommandBuilder()
	s.swdSendRequest(cmd, request)
	s.trn(cmd)
	s.swdReadResponse(cmd)
	resp, err := s.ctrl.Exec(ctx, cmd)
	if err != nil {
		return 0, err
	}
	ack := resp[0] >> 5
	if ack != swdAckSuccess {
		drain := NewCommandBuilder()
		s.trn(drain)
		if _, err := s.ctrl.Exec(ctx, drain); err != nil {
			return 0, err
		}
		return 0, ackError(ack)
	}

	cmd = NewCommandBuilder()
	s.swdReadData(cmd)
	s.trn(cmd)
	resp, err = s.ctrl.Exec(ctx, cmd)
	if err != nil {
		return 0, err
	}
	value := binary.LittleEndian.Uint32(resp[:4])
	parity := (resp[4] >> 7) & 1
	calc := byte(bits.OnesCount32(value) & 1)
	if parity != calc {
		return 0, &ParityError{}
	}
	return value, nil
}

// Write performs an SWD write transaction, checking the ACK before sending
// the 32-bit data phase with its parity bit.
func (s *SWD) Write(ctx context.Context, addr SwdAddr, value uint32) error {
	request := buildRequest(false, addr)
	cmd := NewCommandBuilder()
	s.swdSendRequest(cmd, request)
	s.trn(cmd)
	s.swdReadResponse(cmd)
	s.trn(cmd)
	resp, err := s.ctrl.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	ack := resp[0] >> 5
	if ack != swdAckSuccess {
		return ackError(ack)
	}
	cmd = NewCommandBuilder()
	s.swdWriteData(cmd, value)
	_, err = s.ctrl.Exec(ctx, cmd)
	return err
}
