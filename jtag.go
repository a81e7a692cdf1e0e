// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// JTAG bit-banged over MPSSE.
//
// TCK(D0) must init to low, TDI(D1) changes on the falling edge, TDO(D2) is
// sampled on the rising edge, per AN_108 section 2.2. TMS(D3) drives the TAP
// state machine; every multi-bit TMS sequence below is a fixed traversal of
// the standard 16-state TAP graph.

package ftdi

import (
	"context"
)

const (
	jtagTCKMask = 1 << 0
	jtagTDIMask = 1 << 1
	jtagTDOMask = 1 << 2
	jtagTMSMask = 1 << 3
	jtagRTCK    = 7
)

var (
	jtagTCK = Lower(0)
	jtagTDI = Lower(1)
	jtagTDO = Lower(2)
	jtagTMS = Lower(3)
)

// jtagTCKIdleHigh is the clock's inactive level while driving JTAG: TCK must
// initialize low per AN_108 section 2.2, so write happens on the falling edge and
// read on the rising edge throughout this file.
const jtagTCKIdleHigh = false

const jtagLSBFirst = true

// jtagAnyToIdle drives six TMS cycles of 0b011111, which returns the TAP to
// Run-Test/Idle from any state, including Test-Logic-Reset.
func jtagAnyToIdle(cmd *CommandBuilder) {
	_ = cmd.ClockTMSOut(jtagTCKIdleHigh, 0b0001_1111, 6, true)
}

// jtagIdleCycle parks the TAP in Idle for 7 clocks, letting a device finish
// an internal operation (e.g. a flash program cycle) triggered by the last
// UPDATE-IR/DR.
func jtagIdleCycle(cmd *CommandBuilder) {
	_ = cmd.ClockTMSOut(jtagTCKIdleHigh, 0, 7, true)
}

// jtagIdleToIR walks Idle -> Select-DR -> Select-IR -> Capture-IR -> Shift-IR.
func jtagIdleToIR(cmd *CommandBuilder) {
	_ = cmd.ClockTMSOut(jtagTCKIdleHigh, 0b0000_0011, 4, true)
}

// jtagIRExitToDR walks Exit1-IR -> Update-IR -> Select-DR -> Capture-DR -> Shift-DR.
func jtagIRExitToDR(cmd *CommandBuilder) {
	_ = cmd.ClockTMSOut(jtagTCKIdleHigh, 0b0000_0011, 4, true)
}

// jtagIdleToDR walks Idle -> Select-DR -> Capture-DR -> Shift-DR.
func jtagIdleToDR(cmd *CommandBuilder) {
	_ = cmd.ClockTMSOut(jtagTCKIdleHigh, 0b0000_0001, 3, true)
}

// jtagDRExitToIdle walks Exit1-DR -> Update-DR -> Idle.
func jtagDRExitToIdle(cmd *CommandBuilder) {
	_ = cmd.ClockTMSOut(jtagTCKIdleHigh, 0b0000_0001, 2, true)
}

// jtagShiftWrite shifts bitsCount bits of data into the currently-selected
// shift register (IR or DR), ending the shift by riding the final data bit
// out on TMS, which simultaneously exits to Exit1-IR/DR.
func jtagShiftWrite(cmd *CommandBuilder, data []byte, bitsCount int) {
	bytesCount := (bitsCount - 1) >> 3
	remainBits := (bitsCount - 1) & 7
	lastBit := (data[bytesCount]>>uint(remainBits))&1 == 1
	cmd.ClockBytesOut(jtagTCKIdleHigh, jtagLSBFirst, data[:bytesCount])
	if remainBits > 0 {
		_ = cmd.ClockBitsOut(jtagTCKIdleHigh, jtagLSBFirst, data[bytesCount], remainBits)
	}
	_ = cmd.ClockTMSOut(jtagTCKIdleHigh, 0b0000_0001, 1, lastBit)
}

// jtagShiftRead shifts bitsCount bits out of the currently-selected shift
// register while driving TDI low, reading TDO throughout including the
// TMS-combined final bit.
func jtagShiftRead(cmd *CommandBuilder, bitsCount int) {
	bytesCount := (bitsCount - 1) >> 3
	remainBits := (bitsCount - 1) & 7
	cmd.ClockBytesIn(jtagTCKIdleHigh, jtagLSBFirst, bytesCount)
	if remainBits > 0 {
		_ = cmd.ClockBitsIn(jtagTCKIdleHigh, jtagLSBFirst, remainBits)
	}
	_ = cmd.ClockTMSInOut(jtagTCKIdleHigh, 0b0000_0001, 1, false)
}

// jtagShift is the simultaneous write/read form of jtagShiftWrite/jtagShiftRead,
// used by WriteRead.
func jtagShift(cmd *CommandBuilder, data []byte, bitsCount int) {
	bytesCount := (bitsCount - 1) >> 3
	remainBits := (bitsCount - 1) & 7
	lastBit := (data[bytesCount]>>uint(remainBits))&1 == 1
	cmd.ClockBytesInOut(jtagTCKIdleHigh, jtagLSBFirst, data[:bytesCount])
	if remainBits > 0 {
		_ = cmd.ClockBitsInOut(jtagTCKIdleHigh, jtagLSBFirst, data[bytesCount], remainBits)
	}
	_ = cmd.ClockTMSInOut(jtagTCKIdleHigh, 0b0000_0001, 1, lastBit)
}

// jtagParseSingleShift bit-aligns the tail of a shift response that was
// packed by jtagShift/jtagShiftRead (whose last bit rides in the high bit of
// an extra response byte contributed by the TMS-combined read) back into the
// low bitsCount bits of response, and returns the number of bytes that
// response now occupies.
func jtagParseSingleShift(response []byte, bitsCount int) int {
	bytesCount := (bitsCount - 1) >> 3
	remainBits := (bitsCount - 1) & 7
	if remainBits == 0 {
		response[bytesCount] >>= 7
	} else {
		response[bytesCount] >>= uint(8 - remainBits)
		response[bytesCount] |= (response[bytesCount+1] & 0x80) >> uint(7-remainBits)
	}
	return bytesCount + 1
}

// JTAG drives a JTAG TAP using the D0..D3 lines as TCK/TDI/TDO/TMS.
//
// Shift operations assume the caller supplies IR/DR data LSB-first, the
// natural bit order for a JTAG scan chain.
type JTAG struct {
	ctrl     *Controller
	isIdle   bool
	adaptive bool

	// idleCycleAfterUpdate adds seven extra Idle clocks after every UPDATE-DR,
	// giving a device time to act on the just-latched register before the
	// next shift begins. Some targets (in-system flash programmers in
	// particular) need this; others tolerate shifting straight through.
	idleCycleAfterUpdate bool
}

// JTAGOption configures a JTAG engine at construction time.
type JTAGOption func(*JTAG)

// WithIdleCycleAfterUpdate controls whether seven extra Idle-state clocks
// follow every UPDATE-DR transition. Defaults to true.
func WithIdleCycleAfterUpdate(enable bool) JTAGOption {
	return func(j *JTAG) { j.idleCycleAfterUpdate = enable }
}

// newJTAG allocates TCK/TDI/TDO/TMS on the lower bank and initializes TCK to
// its required idle-low state.
func newJTAG(ctrl *Controller, opts ...JTAGOption) (*JTAG, error) {
	for _, p := range [...]Pin{jtagTCK, jtagTDI, jtagTDO, jtagTMS} {
		if err := ctrl.AllocPin(p, PinUsageJtag); err != nil {
			return nil, err
		}
	}
	mask := byte(jtagTCKMask | jtagTDIMask | jtagTMSMask)
	if err := ctrl.SetBankState(BankLower, mask, mask, 0); err != nil {
		return nil, err
	}
	j := &JTAG{ctrl: ctrl, idleCycleAfterUpdate: true}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close releases the JTAG engine's pins, disabling adaptive clocking first if
// it was enabled.
func (j *JTAG) Close() error {
	if err := j.AdaptiveClock(context.Background(), false); err != nil {
		return err
	}
	for _, p := range [...]Pin{jtagTCK, jtagTDI, jtagTDO, jtagTMS} {
		j.ctrl.FreePin(p)
	}
	return nil
}

// AdaptiveClock enables or disables RTCK adaptive clocking, which allocates
// (or frees) D7 as the RTCK feedback line.
func (j *JTAG) AdaptiveClock(ctx context.Context, enable bool) error {
	if j.adaptive == enable {
		return nil
	}
	if enable {
		if err := j.ctrl.AllocPin(Lower(jtagRTCK), PinUsageJtag); err != nil {
			return err
		}
	} else {
		j.ctrl.FreePin(Lower(jtagRTCK))
	}
	cmd := NewCommandBuilder()
	cmd.EnableAdaptiveClocking(enable)
	if _, err := j.ctrl.Exec(ctx, cmd); err != nil {
		return err
	}
	j.adaptive = enable
	return nil
}

// GoIdle drives the TAP to Run-Test/Idle regardless of its current state.
func (j *JTAG) GoIdle(ctx context.Context) error {
	cmd := NewCommandBuilder()
	jtagAnyToIdle(cmd)
	if _, err := j.ctrl.Exec(ctx, cmd); err != nil {
		return err
	}
	j.isIdle = true
	return nil
}

// ScanWith walks Idle -> Shift-DR and clocks a constant TDI level (0 or all
// ones) while recording TDO, decoding the stream as a chain of 32-bit
// IDCODE/BYPASS entries. A BYPASS cell surfaces as a nil entry. The scan
// terminates once 32 consecutive zero bits are seen (no more devices in the
// chain) or a 32-bit all-ones word is read (floating/disconnected TDO), and
// leaves the TAP in Idle.
func (j *JTAG) ScanWith(ctx context.Context, tdi bool) ([]*uint32, error) {
	cmd := NewCommandBuilder()
	jtagAnyToIdle(cmd)
	jtagIdleToDR(cmd)
	if _, err := j.ctrl.Exec(ctx, cmd); err != nil {
		return nil, err
	}
	pattern := [4]byte{}
	if tdi {
		pattern = [4]byte{0xff, 0xff, 0xff, 0xff}
	}

	var idcodes []*uint32
	var currentID uint32
	bitCount := 0
	consecutiveZeros := 0

outer:
	for {
		shift := NewCommandBuilder()
		shift.ClockBytesInOut(jtagTCKIdleHigh, jtagLSBFirst, pattern[:])
		response, err := j.ctrl.Exec(ctx, shift)
		if err != nil {
			return nil, err
		}
		for _, b := range response {
			for i := 0; i < 8; i++ {
				bit := (b>>uint(i))&1 == 1
				if bitCount == 0 && !bit {
					idcodes = append(idcodes, nil)
					consecutiveZeros++
				} else {
					currentID = currentID>>1 | boolBit32(bit)
					bitCount++
					consecutiveZeros = 0
				}
				if consecutiveZeros == 32 {
					// The run of 32 zero-led entries just appended is the
					// end-of-chain sentinel, not 32 real BYPASS devices; drop
					// it so the returned chain holds only devices seen before
					// the scan ran off the end of the chain.
					idcodes = idcodes[:len(idcodes)-32]
					break outer
				}
				if bitCount == 32 {
					if currentID == 0xffffffff {
						break outer
					}
					id := currentID
					idcodes = append(idcodes, &id)
					bitCount = 0
				}
			}
		}
	}
	if err := j.GoIdle(ctx); err != nil {
		return nil, err
	}
	return idcodes, nil
}

func boolBit32(b bool) uint32 {
	if b {
		return 0x80000000
	}
	return 0
}

// Write shifts irlen bits of ir into IR, then drlen bits of dr into DR,
// leaving the TAP in Idle with seven extra idle clocks (when
// idleCycleAfterUpdate is set) to let the device finish any action triggered
// by the UPDATE-DR.
func (j *JTAG) Write(ctx context.Context, ir []byte, irlen int, dr []byte, drlen int) error {
	cmd := NewCommandBuilder()
	if !j.isIdle {
		jtagAnyToIdle(cmd)
	}
	jtagIdleToIR(cmd)
	jtagShiftWrite(cmd, ir, irlen)
	jtagIRExitToDR(cmd)
	jtagShiftWrite(cmd, dr, drlen)
	jtagDRExitToIdle(cmd)
	if j.idleCycleAfterUpdate {
		jtagIdleCycle(cmd)
	}
	_, err := j.ctrl.Exec(ctx, cmd)
	if err == nil {
		j.isIdle = true
	}
	return err
}

// Read shifts irlen bits of ir into IR, then reads drlen bits out of DR.
func (j *JTAG) Read(ctx context.Context, ir []byte, irlen, drlen int) ([]byte, error) {
	cmd := NewCommandBuilder()
	if !j.isIdle {
		jtagAnyToIdle(cmd)
	}
	jtagIdleToIR(cmd)
	jtagShiftWrite(cmd, ir, irlen)
	jtagIRExitToDR(cmd)
	jtagShiftRead(cmd, drlen)
	jtagDRExitToIdle(cmd)
	if j.idleCycleAfterUpdate {
		jtagIdleCycle(cmd)
	}
	response, err := j.ctrl.Exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	j.isIdle = true
	n := jtagParseSingleShift(response, drlen)
	return response[:n], nil
}

// WriteRead shifts irlen bits of ir into IR, then drlen bits of dr into DR
// while simultaneously reading DR's previous contents back out.
func (j *JTAG) WriteRead(ctx context.Context, ir []byte, irlen int, dr []byte, drlen int) ([]byte, error) {
	cmd := NewCommandBuilder()
	if !j.isIdle {
		jtagAnyToIdle(cmd)
	}
	jtagIdleToIR(cmd)
	jtagShiftWrite(cmd, ir, irlen)
	jtagIRExitToDR(cmd)
	jtagShift(cmd, dr, drlen)
	jtagDRExitToIdle(cmd)
	if j.idleCycleAfterUpdate {
		jtagIdleCycle(cmd)
	}
	response, err := j.ctrl.Exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	j.isIdle = true
	n := jtagParseSingleShift(response, drlen)
	return response[:n], nil
}
