// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// This functionality requires MPSSE.
//
// Interfacing I²C:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_113_FTDI_Hi_Speed_USB_To_I2C_Example.pdf
//
// Implementation based on
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_255_USB%20to%20I2C%20Example%20using%20the%20FT232H%20and%20FT201X%20devices.pdf
//
// Page 18: MPSSE does not automatically support clock stretching for I²C.

package ftdi

import (
	"context"
	"sort"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	i2cSCLMask    = 1 << 0
	i2cSDAOutMask = 1 << 1
	i2cSDAInMask  = 1 << 2
)

var (
	i2cSCLPin    = Lower(0)
	i2cSDAOutPin = Lower(1)
	i2cSDAInPin  = Lower(2)
)

// i2cStartRepeats is how many times the START condition's SCL-high/SDA-low
// GPIO-set command is repeated to stretch its timing; this port emits it
// three times.
const i2cStartRepeats = 3

// i2cOpKind distinguishes a Tx operation's direction.
type i2cOpKind int

const (
	i2cOpWrite i2cOpKind = iota
	i2cOpRead
)

// I2COp is one leg of a Tx transaction: either writing Data or reading into
// it. Consecutive ops of a different kind than the previous one cause a
// repeated START to be emitted between them.
type I2COp struct {
	Kind i2cOpKind
	Data []byte
}

// I2CWrite returns a write leg of a Tx transaction.
func I2CWrite(data []byte) I2COp { return I2COp{Kind: i2cOpWrite, Data: data} }

// I2CRead returns a read leg of a Tx transaction; len(buf) bytes are read
// into buf.
func I2CRead(buf []byte) I2COp { return I2COp{Kind: i2cOpRead, Data: buf} }

// I2COption configures an i2cBus at construction time.
type I2COption func(*i2cBus)

// WithStrictLastByteAck makes a NACK on the final data byte of a write leg a
// hard error instead of the default permissive behavior, where it is
// accepted since some EEPROMs and sensors NACK the last byte by design.
func WithStrictLastByteAck(strict bool) I2COption {
	return func(b *i2cBus) { b.strictLastByteAck = strict }
}

// WithFastMode coalesces an entire Tx transaction into a single MPSSE
// exchange instead of one exchange per phase, trading early NACK detection
// for far fewer USB round-trips.
func WithFastMode(fast bool) I2COption {
	return func(b *i2cBus) { b.fastMode = fast }
}

type i2cBus struct {
	f      *FT232H
	pullUp bool

	strictLastByteAck bool
	fastMode          bool
}

// Close stops I²C mode: it switches back to 2-phase clocking and releases
// the I²C pins.
func (d *i2cBus) Close() error {
	d.f.mu.Lock()
	err := d.stopI2C()
	d.f.mu.Unlock()
	return err
}

// Duplex implements conn.Conn.
func (d *i2cBus) Duplex() conn.Duplex {
	return conn.Half
}

func (d *i2cBus) String() string {
	return d.f.String()
}

// SetSpeed implements i2c.Bus.
//
// Under 3-phase clocking, SDA settles on both SCL edges, so the effective
// I²C bit rate is 2/3 of the raw MPSSE clock; SetSpeed compensates by
// driving the controller at 3/2 of the requested rate.
func (d *i2cBus) SetSpeed(f physic.Frequency) error {
	if f > 10*physic.MegaHertz {
		return &UnsupportedModeError{Reason: "invalid speed; maximum supported clock is 10MHz"}
	}
	if f < 100*physic.Hertz {
		return &UnsupportedModeError{Reason: "invalid speed; minimum supported clock is 100Hz; did you forget to multiply by physic.KiloHertz?"}
	}
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	_, err := d.f.ctrl.SetFrequency(context.Background(), f*3/2)
	return err
}

// Tx implements i2c.Bus: a single write followed by a single read, the
// shape periph.io's i2c.Bus interface requires. For multi-phase
// transactions with repeated STARTs, use TxOps.
func (d *i2cBus) Tx(addr uint16, w, r []byte) error {
	var ops []I2COp
	if len(w) != 0 {
		ops = append(ops, I2CWrite(w))
	}
	if len(r) != 0 {
		ops = append(ops, I2CRead(r))
	}
	return d.TxOps(addr, ops)
}

// TxOps drives addr → op₁ → (repeated START between direction changes) →
// … → STOP.
func (d *i2cBus) TxOps(addr uint16, ops []I2COp) error {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	if d.fastMode {
		return d.txFast(addr, ops)
	}
	return d.txSerial(addr, ops)
}

// txSerial drives one MPSSE exchange per phase, so an address or data NACK
// is detected before any further bytes are sent.
func (d *i2cBus) txSerial(addr uint16, ops []I2COp) error {
	if err := d.setI2CStart(); err != nil {
		return err
	}
	lastKind := i2cOpWrite
	for i, op := range ops {
		if i > 0 && op.Kind != lastKind {
			if err := d.setI2CRepeatedStart(); err != nil {
				return err
			}
		}
		lastKind = op.Kind
		switch op.Kind {
		case i2cOpWrite:
			addrByte := byte(addr << 1)
			if i == 0 {
				if err := d.writeBytesPhase([]byte{addrByte}, true, AckPhaseAddress); err != nil {
					_ = d.setI2CStop()
					return err
				}
			}
			last := i == len(ops)-1
			if err := d.writeBytes(op.Data, !last || d.strictLastByteAck); err != nil {
				_ = d.setI2CStop()
				return err
			}
		case i2cOpRead:
			if i == 0 {
				addrByte := byte(addr<<1) | 1
				if err := d.writeBytesPhase([]byte{addrByte}, true, AckPhaseAddress); err != nil {
					_ = d.setI2CStop()
					return err
				}
			}
			if err := d.readBytes(op.Data); err != nil {
				_ = d.setI2CStop()
				return err
			}
		}
	}
	if err := d.setI2CStop(); err != nil {
		return err
	}
	return d.setI2CLinesIdle()
}

// txFast coalesces the whole transaction into a single command/response
// exchange, deferring every ACK check until after the wire has run.
func (d *i2cBus) txFast(addr uint16, ops []I2COp) error {
	cmd := NewCommandBuilder()
	d.cmdStart(cmd)
	type ackSlot struct {
		offset int
		phase  AckPhase
	}
	var acks []ackSlot
	type readSlot struct {
		buf    []byte
		offset int
	}
	var reads []readSlot

	emitAddr := func(read bool) {
		addrByte := byte(addr << 1)
		if read {
			addrByte |= 1
		}
		d.cmdWriteByte(cmd, addrByte)
		acks = append(acks, ackSlot{offset: cmd.ReadLen() - 1, phase: AckPhaseAddress})
	}

	lastKind := i2cOpWrite
	for i, op := range ops {
		if i > 0 && op.Kind != lastKind {
			d.cmdRepeatedStart(cmd)
		}
		lastKind = op.Kind
		if i == 0 {
			emitAddr(op.Kind == i2cOpRead)
		}
		switch op.Kind {
		case i2cOpWrite:
			for j, b := range op.Data {
				d.cmdWriteByte(cmd, b)
				last := i == len(ops)-1 && j == len(op.Data)-1
				if !last || d.strictLastByteAck {
					acks = append(acks, ackSlot{offset: cmd.ReadLen() - 1, phase: AckPhaseData})
				} else {
					acks = append(acks, ackSlot{offset: -1})
				}
			}
		case i2cOpRead:
			for j := range op.Data {
				nack := i == len(ops)-1 && j == len(op.Data)-1
				off := cmd.ReadLen()
				d.cmdReadByte(cmd, nack)
				reads = append(reads, readSlot{buf: op.Data[j : j+1], offset: off})
			}
		}
	}
	d.cmdStop(cmd)

	resp, err := d.f.ctrl.Exec(context.Background(), cmd)
	if err != nil {
		return err
	}
	for _, a := range acks {
		if a.offset < 0 {
			continue
		}
		if resp[a.offset]&1 != 0 {
			return &NoAckError{Phase: a.phase}
		}
	}
	for _, r := range reads {
		r.buf[0] = resp[r.offset]
	}
	return d.setI2CLinesIdle()
}

// Scan probes every 7-bit address with a zero-byte read and returns those
// that ACK, in ascending order.
func (d *i2cBus) Scan(ctx context.Context) ([]uint16, error) {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	var found []uint16
	for addr := uint16(0); addr < 0x80; addr++ {
		if err := d.setI2CStart(); err != nil {
			return nil, err
		}
		err := d.writeBytes([]byte{byte(addr<<1) | 1}, true)
		_ = d.setI2CStop()
		if err == nil {
			found = append(found, addr)
		} else if _, ok := err.(*NoAckError); !ok {
			return nil, err
		}
	}
	if err := d.setI2CLinesIdle(); err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return found, nil
}

// SCL implements i2c.Pins.
func (d *i2cBus) SCL() gpio.PinIO {
	return d.f.D0
}

// SDA implements i2c.Pins.
func (d *i2cBus) SDA() gpio.PinIO {
	return d.f.D1
}

// setupI2C allocates the I²C pins, brings the MPSSE engine into 3-phase
// clocking at ~100kHz and parks the bus idle. pullUp is only stored in
// d.pullUp; the other pins of the lower bank are left as they are.
func (d *i2cBus) setupI2C(pullUp bool) error {
	for _, p := range [...]Pin{i2cSCLPin, i2cSDAOutPin, i2cSDAInPin} {
		if err := d.f.ctrl.AllocPin(p, PinUsageI2C); err != nil {
			return err
		}
	}
	cmd := NewCommandBuilder()
	cmd.Enable3PhaseClocking(true)
	if _, err := d.f.ctrl.Exec(context.Background(), cmd); err != nil {
		return err
	}
	if _, err := d.f.ctrl.SetFrequency(context.Background(), 100*physic.KiloHertz*3/2); err != nil {
		return err
	}
	d.f.usingI2C = true
	d.pullUp = pullUp
	return d.setI2CLinesIdle()
}

// stopI2C resets the MPSSE to 2-phase clocking and releases the I²C pins.
func (d *i2cBus) stopI2C() error {
	cmd := NewCommandBuilder()
	cmd.Enable3PhaseClocking(false)
	_, err := d.f.ctrl.Exec(context.Background(), cmd)
	for _, p := range [...]Pin{i2cSCLPin, i2cSDAOutPin, i2cSDAInPin} {
		d.f.ctrl.FreePin(p)
	}
	d.f.usingI2C = false
	return err
}

// setI2CLinesIdle sets SCL and SDA-out high (bus idle), without touching any
// other pin on the bank.
func (d *i2cBus) setI2CLinesIdle() error {
	mask := byte(i2cSCLMask | i2cSDAOutMask | i2cSDAInMask)
	return d.f.ctrl.SetBankState(BankLower, mask, i2cSCLMask|i2cSDAOutMask, i2cSCLMask|i2cSDAOutMask)
}

// cmdStart appends a START condition (SDA high→low while SCL is high, then
// SCL high→low), repeated i2cStartRepeats times for timing margin.
func (d *i2cBus) cmdStart(cmd *CommandBuilder) {
	direction, _ := d.f.ctrl.BankState(BankLower)
	direction |= i2cSCLMask | i2cSDAOutMask
	for i := 0; i < i2cStartRepeats; i++ {
		cmd.SetGPIOLower(i2cSCLMask, direction)
	}
	cmd.SetGPIOLower(0, direction)
}

func (d *i2cBus) setI2CStart() error {
	cmd := NewCommandBuilder()
	d.cmdStart(cmd)
	_, err := d.f.ctrl.Exec(context.Background(), cmd)
	return err
}

// cmdRepeatedStart releases SDA while SCL is low, then re-issues START.
func (d *i2cBus) cmdRepeatedStart(cmd *CommandBuilder) {
	direction, _ := d.f.ctrl.BankState(BankLower)
	direction |= i2cSCLMask | i2cSDAOutMask
	cmd.SetGPIOLower(0, direction)
	cmd.SetGPIOLower(i2cSDAOutMask, direction)
	d.cmdStart(cmd)
}

func (d *i2cBus) setI2CRepeatedStart() error {
	cmd := NewCommandBuilder()
	d.cmdRepeatedStart(cmd)
	_, err := d.f.ctrl.Exec(context.Background(), cmd)
	return err
}

// cmdStop appends a STOP condition: SCL low→high while SDA is low, then SDA
// low→high.
func (d *i2cBus) cmdStop(cmd *CommandBuilder) {
	direction, _ := d.f.ctrl.BankState(BankLower)
	direction |= i2cSCLMask | i2cSDAOutMask
	cmd.SetGPIOLower(0, direction)
	cmd.SetGPIOLower(i2cSCLMask, direction)
	cmd.SetGPIOLower(i2cSCLMask|i2cSDAOutMask, direction)
}

func (d *i2cBus) setI2CStop() error {
	cmd := NewCommandBuilder()
	d.cmdStop(cmd)
	_, err := d.f.ctrl.Exec(context.Background(), cmd)
	return err
}

// cmdWriteByte clocks one byte out MSB-first then releases SDA to read the
// slave's ACK bit. 0 means ACK, 1 means NACK.
func (d *i2cBus) cmdWriteByte(cmd *CommandBuilder, b byte) {
	direction, _ := d.f.ctrl.BankState(BankLower)
	direction |= i2cSCLMask | i2cSDAOutMask
	cmd.ClockBytesOut(false, false, []byte{b})
	cmd.SetGPIOLower(i2cSCLMask|i2cSDAOutMask, direction&^i2cSDAOutMask)
	_ = cmd.ClockBitsIn(false, false, 1)
}

// writeBytes writes each byte of w in turn, checking ACK after every byte
// unless checkLast is false for the final byte, and reports a NACK as
// NoAckError{Phase: AckPhaseData}. writeBytesPhase takes the phase to report
// explicitly; callers use it with AckPhaseAddress for the address byte.
func (d *i2cBus) writeBytes(w []byte, checkLast bool) error {
	return d.writeBytesPhase(w, checkLast, AckPhaseData)
}

func (d *i2cBus) writeBytesPhase(w []byte, checkLast bool, phase AckPhase) error {
	for i, b := range w {
		cmd := NewCommandBuilder()
		d.cmdWriteByte(cmd, b)
		resp, err := d.f.ctrl.Exec(context.Background(), cmd)
		if err != nil {
			return err
		}
		last := i == len(w)-1
		if (!last || checkLast) && resp[0]&1 != 0 {
			return &NoAckError{Phase: phase}
		}
	}
	return nil
}

// cmdReadByte clocks one byte in MSB-first then drives the ACK/NACK bit:
// low to request more bytes, high (nack) to signal the last byte of a read.
func (d *i2cBus) cmdReadByte(cmd *CommandBuilder, nack bool) {
	direction, _ := d.f.ctrl.BankState(BankLower)
	direction |= i2cSCLMask | i2cSDAOutMask
	_ = cmd.ClockBitsIn(false, false, 8)
	var ackBit byte
	if nack {
		ackBit = 0x80
	}
	_ = cmd.ClockBitsOut(false, false, ackBit, 1)
	cmd.SetGPIOLower(i2cSCLMask|i2cSDAOutMask, direction)
}

// readBytes reads len(r) bytes, NACKing only the final one.
func (d *i2cBus) readBytes(r []byte) error {
	for i := range r {
		cmd := NewCommandBuilder()
		d.cmdReadByte(cmd, i == len(r)-1)
		resp, err := d.f.ctrl.Exec(context.Background(), cmd)
		if err != nil {
			return err
		}
		r[i] = resp[0]
	}
	return nil
}

var _ i2c.BusCloser = &i2cBus{}
var _ i2c.Pins = &i2cBus{}
