// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Blind JTAG pin discovery, for boards whose TCK/TDI/TDO/TMS assignment on
// an unlabeled header is unknown. The approach is purely electrical: drive
// every (TCK, TMS) candidate pair and watch the remaining pins for a
// plausible IDCODE/BYPASS bitstream to shortlist TDO, then, for each TDO
// shortlisted, brute-force TDI by exploiting the fact that a scan with TDI
// held low decodes to exactly 32 more entries than the same scan with TDI
// held high for a chain with at least one real device.

package ftdi

import "context"

const jtagIDLen = 32

// JtagDetectTDO drives every lower-bank pin except tck/tms as input and
// records, for each of them, the decoded IDCODE/BYPASS chain observed while
// repeatedly shifting DR. A candidate pin carrying TDO is one whose decoded
// chain contains at least one real IDCODE (as opposed to an all-BYPASS or
// all-stuck-at reading).
type JtagDetectTDO struct {
	ctrl *Controller
	tck  int
	tms  int
}

// NewJtagDetectTDO allocates all 8 lower-bank pins: tck and tms as outputs,
// the rest as inputs to be probed for a TDO response.
func NewJtagDetectTDO(ctrl *Controller, tck, tms int) (*JtagDetectTDO, error) {
	for i := 0; i < 8; i++ {
		usage := PinUsageInput
		if i == tck || i == tms {
			usage = PinUsageOutput
		}
		if err := ctrl.AllocPin(Lower(i), usage); err != nil {
			return nil, err
		}
	}
	return &JtagDetectTDO{ctrl: ctrl, tck: tck, tms: tms}, nil
}

// Close releases all 8 lower-bank pins this detector claimed.
func (d *JtagDetectTDO) Close() {
	for i := 0; i < 8; i++ {
		d.ctrl.FreePin(Lower(i))
	}
}

// reset2DR drives 5 TMS=1 clocks (Test-Logic-Reset) followed by the fixed
// 0,1,0,0 TMS sequence that walks Reset -> Idle -> Select-DR -> Capture-DR
// -> Shift-DR, using plain GPIO writes since TDO has not been identified yet
// and no data shift opcode can be used without knowing it.
func (d *JtagDetectTDO) reset2DR(ctx context.Context) error {
	direction := byte(1<<uint(d.tck) | 1<<uint(d.tms))
	tckBit := byte(1 << uint(d.tck))
	tmsBit := byte(1 << uint(d.tms))
	cmd := NewCommandBuilder()
	cmd.SetGPIOLower(tckBit, direction)
	for i := 0; i < 5; i++ {
		cmd.SetGPIOLower(tmsBit, direction)
		cmd.SetGPIOLower(tckBit|tmsBit, direction)
	}
	cmd.SetGPIOLower(0, direction)
	cmd.SetGPIOLower(tckBit, direction)
	cmd.SetGPIOLower(tmsBit, direction)
	cmd.SetGPIOLower(tckBit|tmsBit, direction)
	cmd.SetGPIOLower(0, direction)
	cmd.SetGPIOLower(tckBit, direction)
	cmd.SetGPIOLower(0, direction)
	cmd.SetGPIOLower(tckBit, direction)
	_, err := d.ctrl.Exec(ctx, cmd)
	return err
}

// shiftDR clocks n bits through whatever is currently selected in Shift-DR,
// sampling the full GPIO byte after every clock so every candidate pin can
// be decoded from a single pass.
func (d *JtagDetectTDO) shiftDR(ctx context.Context, n int) ([]byte, error) {
	direction := byte(1<<uint(d.tck) | 1<<uint(d.tms))
	tckBit := byte(1 << uint(d.tck))
	cmd := NewCommandBuilder()
	for i := 0; i < n; i++ {
		cmd.SetGPIOLower(0, direction)
		cmd.SetGPIOLower(tckBit, direction)
		cmd.GPIOLower()
	}
	return d.ctrl.Exec(ctx, cmd)
}

// Scan returns, for each of the 8 lower pins, the decoded IDCODE/BYPASS
// chain seen on it (nil for tck and tms themselves).
func (d *JtagDetectTDO) Scan(ctx context.Context) ([][]*uint32, error) {
	if err := d.reset2DR(ctx); err != nil {
		return nil, err
	}
	read, err := d.shiftDR(ctx, jtagIDLen*2)
	if err != nil {
		return nil, err
	}
	idcodes := make([][]*uint32, 8)
	for i := 0; i < 8; i++ {
		if i == d.tck || i == d.tms {
			continue
		}
		var currentID uint32
		bitCount := 0
		consecutiveBypass := 0
	bits:
		for _, sample := range read {
			tdo := (sample>>uint(i))&1 == 1
			if bitCount == 0 && !tdo {
				idcodes[i] = append(idcodes[i], nil)
				consecutiveBypass++
			} else {
				currentID = currentID>>1 | boolBit32(tdo)
				bitCount++
				consecutiveBypass = 0
			}
			if consecutiveBypass == jtagIDLen {
				idcodes[i] = idcodes[i][:len(idcodes[i])-jtagIDLen]
				break bits
			}
			if bitCount == jtagIDLen {
				if currentID == 0xffffffff {
					break bits
				}
				id := currentID
				idcodes[i] = append(idcodes[i], &id)
				bitCount = 0
			}
		}
	}
	return idcodes, nil
}

// hasRealIDCODE reports whether a decoded chain contains at least one
// non-BYPASS entry, the signature of a genuine TDO line.
func hasRealIDCODE(chain []*uint32) bool {
	for _, c := range chain {
		if c != nil {
			return true
		}
	}
	return false
}

// JtagDetectTDI brute-forces which remaining pin is TDI, given known
// TCK/TDO/TMS, by comparing the length of a scan with TDI held low against a
// scan with TDI held high: for a chain with at least one real device, the
// true TDI produces a scan with exactly 32 more entries when held low.
type JtagDetectTDI struct {
	ctrl               *Controller
	tck, tdi, tdo, tms int
}

// NewJtagDetectTDI allocates tck/tdi/tms as outputs and tdo as input.
func NewJtagDetectTDI(ctrl *Controller, tck, tdi, tdo, tms int) (*JtagDetectTDI, error) {
	for _, a := range [...]struct {
		pin   int
		usage PinUsage
	}{{tck, PinUsageOutput}, {tdi, PinUsageOutput}, {tdo, PinUsageInput}, {tms, PinUsageOutput}} {
		if err := ctrl.AllocPin(Lower(a.pin), a.usage); err != nil {
			return nil, err
		}
	}
	return &JtagDetectTDI{ctrl: ctrl, tck: tck, tdi: tdi, tdo: tdo, tms: tms}, nil
}

// Close releases the four pins this detector claimed.
func (d *JtagDetectTDI) Close() {
	for _, p := range [...]int{d.tck, d.tdi, d.tdo, d.tms} {
		d.ctrl.FreePin(Lower(p))
	}
}

// clockTCK pulses TCK once with the given TMS/TDI levels and returns the
// sampled TDO.
func (d *JtagDetectTDI) clockTCK(ctx context.Context, tms, tdi bool) (bool, error) {
	direction, _ := d.ctrl.BankState(BankLower)
	cmd := NewCommandBuilder()
	low := d.levelBits(tdi, tms)
	cmd.SetGPIOLower(low, direction)
	cmd.SetGPIOLower(low|1<<uint(d.tck), direction)
	cmd.GPIOLower()
	cmd.SetGPIOLower(low, direction)
	resp, err := d.ctrl.Exec(ctx, cmd)
	if err != nil {
		return false, err
	}
	return resp[0]&(1<<uint(d.tdo)) != 0, nil
}

// clockTCKs pulses TCK count times with constant TMS/TDI levels, returning
// the sampled TDO after each pulse.
func (d *JtagDetectTDI) clockTCKs(ctx context.Context, tms, tdi bool, count int) ([]bool, error) {
	direction, _ := d.ctrl.BankState(BankLower)
	low := d.levelBits(tdi, tms)
	cmd := NewCommandBuilder()
	cmd.SetGPIOLower(low, direction)
	for i := 0; i < count; i++ {
		cmd.SetGPIOLower(low|1<<uint(d.tck), direction)
		cmd.GPIOLower()
		cmd.SetGPIOLower(low, direction)
	}
	resp, err := d.ctrl.Exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(resp))
	for i, b := range resp {
		out[i] = b&(1<<uint(d.tdo)) != 0
	}
	return out, nil
}

func (d *JtagDetectTDI) levelBits(tdi, tms bool) byte {
	var v byte
	if tdi {
		v |= 1 << uint(d.tdi)
	}
	if tms {
		v |= 1 << uint(d.tms)
	}
	return v
}

// gotoIdle resets the TAP to Test-Logic-Reset then walks it to Run-Test/Idle.
func (d *JtagDetectTDI) gotoIdle(ctx context.Context) error {
	if _, err := d.clockTCKs(ctx, true, true, 5); err != nil {
		return err
	}
	if _, err := d.clockTCK(ctx, false, true); err != nil {
		return err
	}
	_, err := d.clockTCK(ctx, false, true)
	return err
}

// ScanWith walks the TAP to Shift-DR and shifts in a constant TDI level,
// returning the decoded IDCODE/BYPASS chain, and leaves the TAP in Idle.
func (d *JtagDetectTDI) ScanWith(ctx context.Context, tdi bool) ([]*uint32, error) {
	if err := d.gotoIdle(ctx); err != nil {
		return nil, err
	}
	if _, err := d.clockTCK(ctx, true, true); err != nil { // Select-DR-Scan
		return nil, err
	}
	if _, err := d.clockTCK(ctx, false, true); err != nil { // Capture-DR
		return nil, err
	}
	if _, err := d.clockTCK(ctx, false, true); err != nil { // Shift-DR
		return nil, err
	}

	var idcodes []*uint32
	var currentID uint32
	bitCount := 0
	consecutiveBypass := 0
outer:
	for {
		tdos, err := d.clockTCKs(ctx, false, tdi, jtagIDLen)
		if err != nil {
			return nil, err
		}
		for _, bit := range tdos {
			if bitCount == 0 && !bit {
				idcodes = append(idcodes, nil)
				consecutiveBypass++
			} else {
				currentID = currentID>>1 | boolBit32(bit)
				bitCount++
				consecutiveBypass = 0
			}
			if consecutiveBypass == jtagIDLen {
				idcodes = idcodes[:len(idcodes)-jtagIDLen]
				break outer
			}
			if bitCount == jtagIDLen {
				if currentID == 0xffffffff {
					break outer
				}
				id := currentID
				idcodes = append(idcodes, &id)
				bitCount = 0
			}
		}
	}
	if _, err := d.clockTCK(ctx, true, false); err != nil { // Exit1-DR
		return nil, err
	}
	if _, err := d.clockTCK(ctx, true, false); err != nil { // Update-DR
		return nil, err
	}
	_, err := d.clockTCK(ctx, false, false) // Run-Test/Idle
	return idcodes, err
}

// DetectedPins is the result of a successful blind JTAG pin scan.
type DetectedPins struct {
	TCK, TDI, TDO, TMS int
}

// DetectJTAGPins brute-forces TCK/TMS/TDO/TDI assignment across the 8 lower
// pins. Phase 1 tries every (tck, tms) pair and shortlists TDO candidates as
// pins whose scanned chain contains a real IDCODE; phase 2 tests each
// remaining pin as TDI by checking that scanning with TDI held low yields a
// chain with exactly 32 more entries than scanning with TDI held high. The
// first combination that satisfies both phases is returned.
func DetectJTAGPins(ctx context.Context, ctrl *Controller) (*DetectedPins, error) {
	for tck := 0; tck < 8; tck++ {
		for tms := 0; tms < 8; tms++ {
			if tck == tms {
				continue
			}
			pins, err := tryTCKTMS(ctx, ctrl, tck, tms)
			if err != nil {
				return nil, err
			}
			if pins != nil {
				return pins, nil
			}
		}
	}
	return nil, &OpenFailedError{Reason: "no JTAG device responded to any TCK/TMS pin combination"}
}

func tryTCKTMS(ctx context.Context, ctrl *Controller, tck, tms int) (*DetectedPins, error) {
	detTDO, err := NewJtagDetectTDO(ctrl, tck, tms)
	if err != nil {
		return nil, err
	}
	defer detTDO.Close()
	chains, err := detTDO.Scan(ctx)
	if err != nil {
		return nil, err
	}
	for tdo := 0; tdo < 8; tdo++ {
		if tdo == tck || tdo == tms || !hasRealIDCODE(chains[tdo]) {
			continue
		}
		pins, err := tryTDI(ctx, ctrl, tck, tdo, tms)
		if err != nil {
			return nil, err
		}
		if pins != nil {
			return pins, nil
		}
	}
	return nil, nil
}

func tryTDI(ctx context.Context, ctrl *Controller, tck, tdo, tms int) (*DetectedPins, error) {
	for tdi := 0; tdi < 8; tdi++ {
		if tdi == tck || tdi == tdo || tdi == tms {
			continue
		}
		det, err := NewJtagDetectTDI(ctrl, tck, tdi, tdo, tms)
		if err != nil {
			return nil, err
		}
		low, err := det.ScanWith(ctx, false)
		if err != nil {
			det.Close()
			return nil, err
		}
		high, err := det.ScanWith(ctx, true)
		det.Close()
		if err != nil {
			return nil, err
		}
		if len(low)-len(high) == jtagIDLen {
			return &DetectedPins{TCK: tck, TDI: tdi, TDO: tdo, TMS: tms}, nil
		}
	}
	return nil, nil
}
