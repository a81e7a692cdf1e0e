// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// This functionality requires MPSSE.
//
// Interfacing SPI:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf
//
// Implementation based on
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_180_FT232H%20MPSSE%20Example%20-%20USB%20Current%20Meter%20using%20the%20SPI%20interface.pdf
//
// Only mode 0 and mode 2 are supported: TDI only drives on the second clock
// edge and TDO only samples on the first, so CPHA must be 0. CPOL is
// selected by parking SCK high or low before the transaction begins.

package ftdi

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const (
	spiCLKMask  = 1 << 0
	spiMOSIMask = 1 << 1
	spiMISOMask = 1 << 2
	spiCSMask   = 1 << 3
)

var (
	spiCLKPin  = Lower(0)
	spiMOSIPin = Lower(1)
	spiMISOPin = Lower(2)
	spiCSPin   = Lower(3)
)

// spiMode holds the CPOL/CS/bit-order configuration shared by the Bus,
// HalfDuplex and Device flavors below.
type spiMode struct {
	clkActiveLow bool // CPOL=1
	noCS         bool // CS line is not touched by this port
	lsbFirst     bool
}

// parseMode validates an spi.Mode against what MPSSE can drive and splits
// out the NoCS/LSBFirst flags.
func parseMode(m spi.Mode) (spiMode, error) {
	var sm spiMode
	sm.noCS = m&spi.NoCS != 0
	sm.lsbFirst = m&spi.LSBFirst != 0
	m &^= spi.NoCS | spi.HalfDuplex | spi.LSBFirst
	if m&1 != 0 {
		return sm, &UnsupportedModeError{Reason: "mode 1 and 3 (CPHA=1) are not supported by MPSSE shift hardware"}
	}
	if m != 0 && m != 2 {
		return sm, &UnsupportedModeError{Reason: "unknown spi mode"}
	}
	sm.clkActiveLow = m == 2
	return sm, nil
}

func checkSpeed(f physic.Frequency) (physic.Frequency, error) {
	if f > physic.GigaHertz {
		return 0, fmt.Errorf("d2xx: invalid speed %s; maximum supported clock is 30MHz", f)
	}
	if f > 30*physic.MegaHertz {
		f = 30 * physic.MegaHertz
	}
	if f < 100*physic.Hertz {
		return 0, fmt.Errorf("d2xx: invalid speed %s; minimum supported clock is 100Hz; did you forget to multiply by physic.MegaHertz?", f)
	}
	return f, nil
}

func checkBits(bits int) error {
	if bits&7 != 0 {
		return errors.New("d2xx: bits must be multiple of 8")
	}
	if bits != 8 {
		return errors.New("d2xx: implement bits per word above 8")
	}
	return nil
}

// spiMPSEEPort is a full-duplex SPI port over a FTDI device in MPSSE mode,
// caller managing CS via a dedicated GPIO pin unless spi.NoCS is cleared, in
// which case pin 3 is driven automatically.
type spiMPSEEPort struct {
	c spiMPSEEConn

	maxFreq physic.Frequency
}

func (s *spiMPSEEPort) Close() error {
	s.c.f.mu.Lock()
	s.c.f.usingSPI = false
	s.maxFreq = 0
	s.c.mode = spiMode{}
	s.c.f.ctrl.FreePin(spiCLKPin)
	s.c.f.ctrl.FreePin(spiMOSIPin)
	s.c.f.ctrl.FreePin(spiMISOPin)
	s.c.f.ctrl.FreePin(spiCSPin)
	s.c.f.mu.Unlock()
	return nil
}

func (s *spiMPSEEPort) String() string {
	return s.c.f.String()
}

// Connect implements spi.Port.
func (s *spiMPSEEPort) Connect(f physic.Frequency, m spi.Mode, bits int) (spi.Conn, error) {
	f, err := checkSpeed(f)
	if err != nil {
		return nil, err
	}
	if err := checkBits(bits); err != nil {
		return nil, err
	}
	if m&spi.HalfDuplex != 0 {
		return nil, &UnsupportedModeError{Reason: "use HalfDuplex() instead of Connect() with spi.HalfDuplex"}
	}
	sm, err := parseMode(m)
	if err != nil {
		return nil, err
	}
	s.c.f.mu.Lock()
	defer s.c.f.mu.Unlock()
	s.c.mode = sm
	if err := s.c.allocPins(); err != nil {
		return nil, err
	}
	if s.maxFreq == 0 || f < s.maxFreq {
		if _, err := s.c.f.ctrl.SetFrequency(context.Background(), f); err != nil {
			return nil, err
		}
		s.maxFreq = f
	}
	if err := s.c.resetIdle(); err != nil {
		return nil, err
	}
	s.c.f.usingSPI = true
	return &s.c, nil
}

// LimitSpeed implements spi.Port.
func (s *spiMPSEEPort) LimitSpeed(f physic.Frequency) error {
	f, err := checkSpeed(f)
	if err != nil {
		return err
	}
	s.c.f.mu.Lock()
	defer s.c.f.mu.Unlock()
	if s.maxFreq != 0 && s.maxFreq <= f {
		return nil
	}
	s.maxFreq = f
	_, err = s.c.f.ctrl.SetFrequency(context.Background(), f)
	return err
}

// CLK returns the SCK (clock) pin.
func (s *spiMPSEEPort) CLK() gpio.PinOut { return s.c.CLK() }

// MOSI returns the SDO (master out, slave in) pin.
func (s *spiMPSEEPort) MOSI() gpio.PinOut { return s.c.MOSI() }

// MISO returns the SDI (master in, slave out) pin.
func (s *spiMPSEEPort) MISO() gpio.PinIn { return s.c.MISO() }

// CS returns the CSN (chip select) pin.
func (s *spiMPSEEPort) CS() gpio.PinOut { return s.c.CS() }

type spiMPSEEConn struct {
	f *FT232H

	mode spiMode
}

func (s *spiMPSEEConn) String() string {
	return s.f.String()
}

func (s *spiMPSEEConn) Tx(w, r []byte) error {
	p := [1]spi.Packet{{W: w, R: r}}
	return s.TxPackets(p[:])
}

func (s *spiMPSEEConn) Duplex() conn.Duplex {
	return conn.Full
}

// allocPins claims CLK/MOSI/MISO, and CS unless NoCS is set.
func (s *spiMPSEEConn) allocPins() error {
	for _, p := range [...]Pin{spiCLKPin, spiMOSIPin, spiMISOPin} {
		if err := s.f.ctrl.AllocPin(p, PinUsageSpi); err != nil {
			return err
		}
	}
	if !s.mode.noCS {
		if err := s.f.ctrl.AllocPin(spiCSPin, PinUsageSpi); err != nil {
			return err
		}
	}
	return nil
}

// resetIdle parks CLK at its idle level and CS deasserted (high), without
// touching pin 4 and above.
func (s *spiMPSEEConn) resetIdle() error {
	mask := byte(spiCLKMask | spiMOSIMask | spiMISOMask)
	direction := byte(spiCLKMask | spiMOSIMask)
	value := byte(0)
	if s.mode.clkActiveLow {
		value |= spiCLKMask
	}
	if !s.mode.noCS {
		mask |= spiCSMask
		direction |= spiCSMask
		value |= spiCSMask
	}
	return s.f.ctrl.SetBankState(BankLower, mask, direction, value)
}

func (s *spiMPSEEConn) idleValue() byte {
	v := byte(0)
	if s.mode.clkActiveLow {
		v |= spiCLKMask
	}
	if !s.mode.noCS {
		v |= spiCSMask
	}
	return v
}

// TxPackets implements spi.Conn.
func (s *spiMPSEEConn) TxPackets(pkts []spi.Packet) error {
	for _, p := range pkts {
		if p.KeepCS {
			return errors.New("d2xx: implement spi.Packet.KeepCS")
		}
		if p.BitsPerWord&7 != 0 {
			return errors.New("d2xx: bits must be a multiple of 8")
		}
		if p.BitsPerWord != 0 && p.BitsPerWord != 8 {
			return errors.New("d2xx: implement spi.Packet.BitsPerWord")
		}
		if err := verifyBuffers(p.W, p.R); err != nil {
			return err
		}
	}
	s.f.mu.Lock()
	defer s.f.mu.Unlock()

	idle := s.idleValue()
	active := idle
	if !s.mode.noCS {
		active &^= spiCSMask
	}
	direction := byte(spiCLKMask | spiMOSIMask)
	if !s.mode.noCS {
		direction |= spiCSMask
	}

	cmd := NewCommandBuilder()
	cmd.SetGPIOLower(active, direction)
	type readSlot struct {
		buf    []byte
		offset int
	}
	var reads []readSlot
	for _, p := range pkts {
		if len(p.W) == 0 && len(p.R) == 0 {
			continue
		}
		off := cmd.ReadLen()
		switch {
		case len(p.W) != 0 && len(p.R) != 0:
			cmd.ClockBytesInOut(s.mode.clkActiveLow, s.mode.lsbFirst, p.W)
			reads = append(reads, readSlot{buf: p.R, offset: off})
		case len(p.W) != 0:
			cmd.ClockBytesOut(s.mode.clkActiveLow, s.mode.lsbFirst, p.W)
		default:
			cmd.ClockBytesIn(s.mode.clkActiveLow, s.mode.lsbFirst, len(p.R))
			reads = append(reads, readSlot{buf: p.R, offset: off})
		}
	}
	cmd.SetGPIOLower(idle, direction)

	resp, err := s.f.ctrl.Exec(context.Background(), cmd)
	if err != nil {
		return err
	}
	for _, r := range reads {
		copy(r.buf, resp[r.offset:r.offset+len(r.buf)])
	}
	return nil
}

// CLK returns the SCK (clock) pin.
func (s *spiMPSEEConn) CLK() gpio.PinOut { return s.f.D0 }

// MOSI returns the SDO (master out, slave in) pin.
func (s *spiMPSEEConn) MOSI() gpio.PinOut { return s.f.D1 }

// MISO returns the SDI (master in, slave out) pin.
func (s *spiMPSEEConn) MISO() gpio.PinIn { return s.f.D2 }

// CS returns the CSN (chip select) pin.
func (s *spiMPSEEConn) CS() gpio.PinOut { return s.f.D3 }

// SPIHalfDuplex is a three-wire SPI variant where MOSI is tri-stated while
// reading instead of being driven, matching hardware that ties MOSI and
// MISO together on a single data line. The teacher's MPSSE port rejects
// spi.HalfDuplex outright; this restores it as a dedicated type.
type SPIHalfDuplex struct {
	f    *FT232H
	mode spiMode
}

// HalfDuplex returns a 3-wire SPI connection using D0 (clock), D1 (data,
// output-only while writing, tri-stated while reading) and D3 (CS, unless
// spi.NoCS is set).
func (f *FT232H) HalfDuplex(freq physic.Frequency, m spi.Mode, bits int) (*SPIHalfDuplex, error) {
	freq, err := checkSpeed(freq)
	if err != nil {
		return nil, err
	}
	if err := checkBits(bits); err != nil {
		return nil, err
	}
	sm, err := parseMode(m)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingSPI || f.usingI2C {
		return nil, errors.New("d2xx: bus already in use")
	}
	h := &SPIHalfDuplex{f: f, mode: sm}
	for _, p := range [...]Pin{spiCLKPin, spiMOSIPin} {
		if err := f.ctrl.AllocPin(p, PinUsageSpi); err != nil {
			return nil, err
		}
	}
	if !sm.noCS {
		if err := f.ctrl.AllocPin(spiCSPin, PinUsageSpi); err != nil {
			return nil, err
		}
	}
	if _, err := f.ctrl.SetFrequency(context.Background(), freq); err != nil {
		return nil, err
	}
	idle := byte(0)
	direction := byte(spiCLKMask | spiMOSIMask)
	if sm.clkActiveLow {
		idle |= spiCLKMask
	}
	if !sm.noCS {
		idle |= spiCSMask
		direction |= spiCSMask
	}
	if err := f.ctrl.SetBankState(BankLower, spiCLKMask|spiMOSIMask|spiCSMask, direction, idle); err != nil {
		return nil, err
	}
	f.usingSPI = true
	return h, nil
}

// Close releases the pins this connection claimed.
func (h *SPIHalfDuplex) Close() error {
	h.f.mu.Lock()
	h.f.usingSPI = false
	h.f.ctrl.FreePin(spiCLKPin)
	h.f.ctrl.FreePin(spiMOSIPin)
	h.f.ctrl.FreePin(spiCSPin)
	h.f.mu.Unlock()
	return nil
}

func (h *SPIHalfDuplex) idleValue() byte {
	v := byte(0)
	if h.mode.clkActiveLow {
		v |= spiCLKMask
	}
	if !h.mode.noCS {
		v |= spiCSMask
	}
	return v
}

// Write drives w out over MOSI with CS asserted for the duration.
func (h *SPIHalfDuplex) Write(w []byte) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	idle := h.idleValue()
	active := idle
	direction := byte(spiCLKMask | spiMOSIMask)
	if !h.mode.noCS {
		active &^= spiCSMask
		direction |= spiCSMask
	}
	cmd := NewCommandBuilder()
	cmd.SetGPIOLower(active, direction)
	cmd.ClockBytesOut(h.mode.clkActiveLow, h.mode.lsbFirst, w)
	cmd.SetGPIOLower(idle, direction)
	_, err := h.f.ctrl.Exec(context.Background(), cmd)
	return err
}

// Read tri-states MOSI and clocks len(r) bytes in over it, CS asserted for
// the duration.
func (h *SPIHalfDuplex) Read(r []byte) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	idle := h.idleValue()
	active := idle
	fullDir := byte(spiCLKMask | spiMOSIMask)
	readDir := byte(spiCLKMask)
	if !h.mode.noCS {
		active &^= spiCSMask
		fullDir |= spiCSMask
		readDir |= spiCSMask
	}
	cmd := NewCommandBuilder()
	cmd.SetGPIOLower(active, readDir)
	cmd.ClockBytesIn(h.mode.clkActiveLow, h.mode.lsbFirst, len(r))
	cmd.SetGPIOLower(idle, fullDir)
	resp, err := h.f.ctrl.Exec(context.Background(), cmd)
	if err != nil {
		return err
	}
	copy(r, resp)
	return nil
}

// SPIOp is one leg of an SPIDevice batch transaction.
type SPIOp struct {
	W, R []byte
}

// SPIDevice is a full-duplex SPI bus with host-managed chip-select over a
// single batch of operations, modeled after an eh1-style
// SpiDevice::transaction: CS is driven low, every op runs, CS is driven
// high, all within one MPSSE exchange.
type SPIDevice struct {
	f    *FT232H
	mode spiMode
}

// Device returns an SPIDevice using D0 (clock), D1 (MOSI), D2 (MISO) and D3
// (CS, host-managed regardless of spi.NoCS).
func (f *FT232H) Device(freq physic.Frequency, m spi.Mode, bits int) (*SPIDevice, error) {
	freq, err := checkSpeed(freq)
	if err != nil {
		return nil, err
	}
	if err := checkBits(bits); err != nil {
		return nil, err
	}
	sm, err := parseMode(m)
	if err != nil {
		return nil, err
	}
	sm.noCS = false
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingSPI || f.usingI2C {
		return nil, errors.New("d2xx: bus already in use")
	}
	for _, p := range [...]Pin{spiCLKPin, spiMOSIPin, spiMISOPin, spiCSPin} {
		if err := f.ctrl.AllocPin(p, PinUsageSpi); err != nil {
			return nil, err
		}
	}
	if _, err := f.ctrl.SetFrequency(context.Background(), freq); err != nil {
		return nil, err
	}
	idle := byte(spiCSMask)
	if sm.clkActiveLow {
		idle |= spiCLKMask
	}
	direction := byte(spiCLKMask | spiMOSIMask | spiCSMask)
	if err := f.ctrl.SetBankState(BankLower, spiCLKMask|spiMOSIMask|spiMISOMask|spiCSMask, direction, idle); err != nil {
		return nil, err
	}
	f.usingSPI = true
	return &SPIDevice{f: f, mode: sm}, nil
}

// Close releases the pins this device claimed.
func (d *SPIDevice) Close() error {
	d.f.mu.Lock()
	d.f.usingSPI = false
	d.f.ctrl.FreePin(spiCLKPin)
	d.f.ctrl.FreePin(spiMOSIPin)
	d.f.ctrl.FreePin(spiMISOPin)
	d.f.ctrl.FreePin(spiCSPin)
	d.f.mu.Unlock()
	return nil
}

// Transaction drives CS low, performs every op's read/write/transfer in
// order, then drives CS high — the whole batch in a single MPSSE exchange.
func (d *SPIDevice) Transaction(ops []SPIOp) error {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()

	idle := byte(spiCSMask)
	if d.mode.clkActiveLow {
		idle |= spiCLKMask
	}
	active := idle &^ spiCSMask
	direction := byte(spiCLKMask | spiMOSIMask | spiCSMask)

	cmd := NewCommandBuilder()
	cmd.SetGPIOLower(active, direction)
	type readSlot struct {
		buf    []byte
		offset int
	}
	var reads []readSlot
	for _, op := range ops {
		if err := verifyBuffers(op.W, op.R); err != nil {
			return err
		}
		if len(op.W) == 0 && len(op.R) == 0 {
			continue
		}
		off := cmd.ReadLen()
		switch {
		case len(op.W) != 0 && len(op.R) != 0:
			cmd.ClockBytesInOut(d.mode.clkActiveLow, d.mode.lsbFirst, op.W)
			reads = append(reads, readSlot{buf: op.R, offset: off})
		case len(op.W) != 0:
			cmd.ClockBytesOut(d.mode.clkActiveLow, d.mode.lsbFirst, op.W)
		default:
			cmd.ClockBytesIn(d.mode.clkActiveLow, d.mode.lsbFirst, len(op.R))
			reads = append(reads, readSlot{buf: op.R, offset: off})
		}
	}
	cmd.SetGPIOLower(idle, direction)

	resp, err := d.f.ctrl.Exec(context.Background(), cmd)
	if err != nil {
		return err
	}
	for _, r := range reads {
		copy(r.buf, resp[r.offset:r.offset+len(r.buf)])
	}
	return nil
}

func verifyBuffers(w, r []byte) error {
	if len(w) != 0 {
		if len(r) != 0 {
			if len(w) != len(r) {
				return errors.New("d2xx: both buffers must have the same size")
			}
		}
		if len(w) > 65536 {
			return errors.New("d2xx: maximum buffer size is 64Kb")
		}
	} else if len(r) != 0 {
		if len(r) > 65536 {
			return errors.New("d2xx: maximum buffer size is 64Kb")
		}
	}
	return nil
}

//

// spiSyncPort is an SPI port over a FTDI device in synchronous bit-bang mode.
type spiSyncPort struct {
	c spiSyncConn

	// Mutable.
	maxFreq physic.Frequency
}

func (s *spiSyncPort) Close() error {
	s.c.f.mu.Lock()
	s.c.f.usingSPI = false
	s.maxFreq = 0
	s.c.edgeInvert = false
	s.c.clkActiveLow = false
	s.c.noCS = false
	s.c.lsbFirst = false
	s.c.halfDuplex = false
	s.c.f.mu.Unlock()
	return nil
}

func (s *spiSyncPort) String() string {
	return s.c.f.String()
}

const ft232rMaxSpeed = 3 * physic.MegaHertz

// Connect implements spi.Port.
func (s *spiSyncPort) Connect(f physic.Frequency, m spi.Mode, bits int) (spi.Conn, error) {
	if f > physic.GigaHertz {
		return nil, fmt.Errorf("d2xx: invalid speed %s; maximum supported clock is 1.5MHz", f)
	}
	if f > ft232rMaxSpeed/2 {
		// TODO(maruel): Figure out a way to communicate that the speed was lowered.
		// https://github.com/google/periph/issues/255
		f = ft232rMaxSpeed / 2
	}
	if f < 100*physic.Hertz {
		return nil, fmt.Errorf("d2xx: invalid speed %s; minimum supported clock is 100Hz; did you forget to multiply by physic.MegaHertz?", f)
	}
	if bits&7 != 0 {
		return nil, errors.New("d2xx: bits must be multiple of 8")
	}
	if bits != 8 {
		return nil, errors.New("d2xx: implement bits per word above 8")
	}

	s.c.f.mu.Lock()
	defer s.c.f.mu.Unlock()
	s.c.noCS = m&spi.NoCS != 0
	s.c.halfDuplex = m&spi.HalfDuplex != 0
	s.c.lsbFirst = m&spi.LSBFirst != 0
	m &^= spi.NoCS | spi.HalfDuplex | spi.LSBFirst
	if s.c.halfDuplex {
		return nil, errors.New("d2xx: spi.HalfDuplex is not yet supported (implementing wouldn't be too hard, please submit a PR")
	}
	if m < 0 || m > 3 {
		return nil, errors.New("d2xx: unknown spi mode")
	}
	s.c.edgeInvert = m&1 != 0
	s.c.clkActiveLow = m&2 != 0
	if s.maxFreq == 0 || f < s.maxFreq {
		if err := s.c.f.SetSpeed(f * 2); err != nil {
			return nil, err
		}
		s.maxFreq = f
	}
	// D0, D2 and D3 are output. D4~D7 are kept as-is.
	const mosi = byte(1) << 0 // TX
	const miso = byte(1) << 1 // RX
	const clk = byte(1) << 2  // RTS
	const cs = byte(1) << 3   // CTS
	mask := mosi | clk | cs | (s.c.f.dmask & 0xF0)
	if err := s.c.f.setDBusMaskLocked(mask); err != nil {
		return nil, err
	}
	// TODO(maruel): Combine both following calls if possible. We'd shave off a
	// few ms.
	if !s.c.noCS {
		// CTS/SPI_CS is active low.
		if err := s.c.f.dbusSyncGPIOOutLocked(3, gpio.High); err != nil {
			return nil, err
		}
	}
	if s.c.clkActiveLow {
		// RTS/SPI_CLK is active low.
		if err := s.c.f.dbusSyncGPIOOutLocked(2, gpio.High); err != nil {
			return nil, err
		}
	}
	s.c.f.usingSPI = true
	return &s.c, nil
}

// LimitSpeed implements spi.Port.
func (s *spiSyncPort) LimitSpeed(f physic.Frequency) error {
	if f > physic.GigaHertz {
		return fmt.Errorf("d2xx: invalid speed %s; maximum supported clock is 1.5MHz", f)
	}
	if f < 100*physic.Hertz {
		return fmt.Errorf("d2xx: invalid speed %s; minimum supported clock is 100Hz; did you forget to multiply by physic.MegaHertz?", f)
	}
	s.c.f.mu.Lock()
	defer s.c.f.mu.Unlock()
	if s.maxFreq != 0 && s.maxFreq <= f {
		return nil
	}
	if err := s.c.f.SetSpeed(f * 2); err == nil {
		s.maxFreq = f
	}
	return nil
}

// CLK returns the SCK (clock) pin.
func (s *spiSyncPort) CLK() gpio.PinOut {
	return s.c.CLK()
}

// MOSI returns the SDO (master out, slave in) pin.
func (s *spiSyncPort) MOSI() gpio.PinOut {
	return s.c.MOSI()
}

// MISO returns the SDI (master in, slave out) pin.
func (s *spiSyncPort) MISO() gpio.PinIn {
	return s.c.MISO()
}

// CS returns the CSN (chip select) pin.
func (s *spiSyncPort) CS() gpio.PinOut {
	return s.c.CS()
}

type spiSyncConn struct {
	// Immutable.
	f *FT232R

	// Initialized at Connect().
	edgeInvert   bool // CPHA=1
	clkActiveLow bool // CPOL=1
	noCS         bool // CS line is not changed
	lsbFirst     bool // Default is MSB first
	halfDuplex   bool // 3 wire mode
}

func (s *spiSyncConn) String() string {
	return s.f.String()
}

func (s *spiSyncConn) Tx(w, r []byte) error {
	var p = [1]spi.Packet{{W: w, R: r}}
	return s.TxPackets(p[:])
}

func (s *spiSyncConn) Duplex() conn.Duplex {
	// TODO(maruel): Support half if there's a need.
	return conn.Full
}

func (s *spiSyncConn) TxPackets(pkts []spi.Packet) error {
	// We need to 'expand' each bit 2 times * 8 bits, which leads
	// to a 16x memory usage increase. Adds 5 samples before and after.
	totalW := 0
	totalR := 0
	for _, p := range pkts {
		if p.KeepCS {
			return errors.New("d2xx: implement spi.Packet.KeepCS")
		}
		if p.BitsPerWord&7 != 0 {
			return errors.New("d2xx: bits must be a multiple of 8")
		}
		if p.BitsPerWord != 0 && p.BitsPerWord != 8 {
			return errors.New("d2xx: implement spi.Packet.BitsPerWord")
		}
		if err := verifyBuffers(p.W, p.R); err != nil {
			return err
		}
		// TODO(maruel): Correctly calculate offsets.
		if len(p.W) != 0 {
			totalW += 2 * 8 * len(p.W)
		}
		if len(p.R) != 0 {
			totalR += 2 * 8 * len(p.R)
		}
	}

	// Create a large, single chunk.
	var we, re []byte
	if totalW != 0 {
		totalW += 10
		we = make([]byte, 0, totalW)
	}
	if totalR != 0 {
		totalR += 10
		re = make([]byte, totalR)
	}
	const mosi = byte(1) << 0 // TX
	const miso = byte(1) << 1 // RX
	const clk = byte(1) << 2  // RTS
	const cs = byte(1) << 3   // CTS

	s.f.mu.Lock()
	defer s.f.mu.Unlock()

	// https://en.wikipedia.org/wiki/Serial_Peripheral_Interface#Data_transmission

	csActive := s.f.dvalue & s.f.dmask & 0xF0
	csIdle := csActive
	if !s.noCS {
		csIdle = csActive | cs
	}
	clkIdle := csActive
	clkActive := clkIdle | clk
	if s.clkActiveLow {
		clkActive, clkIdle = clkIdle, clkActive
		csIdle |= clk
	}
	// Start of tx; assert CS if needed.
	we = append(we, csIdle, clkIdle, clkIdle, clkIdle, clkIdle)
	for _, p := range pkts {
		if len(p.W) == 0 && len(p.R) == 0 {
			continue
		}
		// TODO(maruel): s.halfDuplex.
		for _, b := range p.W {
			for j := uint(0); j < 8; j++ {
				// For each bit, handle clock phase and data phase.
				bit := byte(0)
				if !s.lsbFirst {
					// MSBF
					if b&(0x80>>j) != 0 {
						bit = mosi
					}
				} else {
					// LSBF
					if b&(1<<j) != 0 {
						bit = mosi
					}
				}
				if !s.edgeInvert {
					// Mode0/2; CPHA=0
					we = append(we, clkIdle|bit, clkActive|bit)
				} else {
					// Mode1/3; CPHA=1
					we = append(we, clkActive|bit, clkIdle|bit)
				}
			}
		}
	}
	// End of tx; deassert CS.
	we = append(we, clkIdle, clkIdle, clkIdle, clkIdle, csIdle)

	if err := s.f.txLocked(we, re); err != nil {
		return err
	}

	// Extract data from re into r.
	for _, p := range pkts {
		// TODO(maruel): Correctly calculate offsets.
		if len(p.W) == 0 && len(p.R) == 0 {
			continue
		}
		// TODO(maruel): halfDuplex.
		for i := range p.R {
			// For each bit, read at the right data phase.
			b := byte(0)
			for j := 0; j < 8; j++ {
				if re[5+i*8*2+j*2+1]&byte(1)<<1 != 0 {
					if !s.lsbFirst {
						// MSBF
						b |= 0x80 >> uint(j)
					} else {
						// LSBF
						b |= 1 << uint(j)
					}
				}
			}
			p.R[i] = b
		}
	}
	return nil
}

// CLK returns the SCK (clock) pin.
func (s *spiSyncConn) CLK() gpio.PinOut {
	return s.f.D2 // RTS
}

// MOSI returns the SDO (master out, slave in) pin.
func (s *spiSyncConn) MOSI() gpio.PinOut {
	return s.f.D0 // TX
}

// MISO returns the SDI (master in, slave out) pin.
func (s *spiSyncConn) MISO() gpio.PinIn {
	return s.f.D1 // RX
}

// CS returns the CSN (chip select) pin.
func (s *spiSyncConn) CS() gpio.PinOut {
	return s.f.D3 // CTS
}

//

var _ spi.PortCloser = &spiMPSEEPort{}
var _ spi.Conn = &spiMPSEEConn{}
var _ spi.PortCloser = &spiSyncPort{}
var _ spi.Conn = &spiSyncConn{}
