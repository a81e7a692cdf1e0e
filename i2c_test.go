// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"testing"
)

// TestI2CAddressLaw is the "I²C address law" property: the byte put on the
// wire for a 7-bit address is (addr<<1)|R, R=0 for write, R=1 for read.
func TestI2CAddressLaw(t *testing.T) {
	tests := []struct {
		addr  uint16
		read  bool
		wantB byte
	}{
		{0x48, false, 0x90},
		{0x48, true, 0x91},
		{0x00, false, 0x00},
		{0x00, true, 0x01},
		{0x7f, false, 0xfe},
		{0x7f, true, 0xff},
	}
	for _, tt := range tests {
		ft := &fakeTransport{reads: [][]byte{{0x00}}}
		bus := &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}}
		addrByte := byte(tt.addr << 1)
		if tt.read {
			addrByte |= 1
		}
		if addrByte != tt.wantB {
			t.Fatalf("addr=%#x read=%v: computed byte %#x, want %#x", tt.addr, tt.read, addrByte, tt.wantB)
		}
		if err := bus.writeBytesPhase([]byte{addrByte}, true, AckPhaseAddress); err != nil {
			t.Fatalf("writeBytesPhase() = %v", err)
		}
		if len(ft.writes) != 1 {
			t.Fatalf("got %d writes, want 1", len(ft.writes))
		}
		// cmd layout: [op, len-1, (len-1)>>8, addrByte, ...]; ClockBytesOut's
		// 3-byte chunk header precedes the single data byte.
		if ft.writes[0][3] != addrByte {
			t.Errorf("wire byte = %#x, want %#x", ft.writes[0][3], addrByte)
		}
	}
}

// TestI2CWriteBytesNACKPolarity checks that an ACK bit of 1 (the I²C wire
// convention: low means ACK, high means NACK) surfaces as NoAckError, and 0
// is treated as success.
func TestI2CWriteBytesNACKPolarity(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0x00}}}
	bus := &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}}
	if err := bus.writeBytes([]byte{0x42}, true); err != nil {
		t.Fatalf("writeBytes() with ACK bit 0 = %v, want nil", err)
	}

	ft = &fakeTransport{reads: [][]byte{{0x01}}}
	bus = &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}}
	err := bus.writeBytes([]byte{0x42}, true)
	nack, ok := err.(*NoAckError)
	if !ok {
		t.Fatalf("writeBytes() with ACK bit 1 error = %T, want *NoAckError", err)
	}
	if nack.Phase != AckPhaseData {
		t.Errorf("NoAckError.Phase = %s, want data", nack.Phase)
	}
}

// TestI2CWriteBytesPermissiveLastByteDefault checks the resolved Open
// Question: by default, a NACK on the last byte of a write leg is accepted.
func TestI2CWriteBytesPermissiveLastByteDefault(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0x01}}}
	bus := &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}}
	if err := bus.writeBytes([]byte{0x42}, false); err != nil {
		t.Fatalf("writeBytes(checkLast=false) with a NACK'd last byte = %v, want nil", err)
	}
}

func TestI2CReadBytes(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0xaa}, {0xbb}}}
	bus := &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}}
	r := make([]byte, 2)
	if err := bus.readBytes(r); err != nil {
		t.Fatalf("readBytes() = %v", err)
	}
	if r[0] != 0xaa || r[1] != 0xbb {
		t.Errorf("readBytes() = %#v, want [0xaa 0xbb]", r)
	}
}

// TestI2CLM75Read is end-to-end scenario 1: a single-byte write (pointer
// register) followed by a 2-byte read from an LM75 temperature sensor. It
// drives the same phase sequence txSerial does (writeBytesPhase/writeBytes/
// readBytes), stopping short of the trailing setI2CLinesIdle call: that call
// commits the bank-state cache to the device handle, which a fakeTransport,
// by design, does not back.
func TestI2CLM75Read(t *testing.T) {
	const addr = uint16(0x48)
	ft := &fakeTransport{reads: [][]byte{
		{0x00}, // START's address+write ACK
		{0x00}, // pointer-register byte ACK
		{0x00}, // repeated-START's address+read ACK
		{0x19}, // data byte 0: 0x1940 >> 7 * 0.5 == 25.0C in LM75's 9-bit format
		{0x40}, // data byte 1
	}}
	bus := &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}}
	if err := bus.setI2CStart(); err != nil {
		t.Fatalf("setI2CStart() = %v", err)
	}
	if err := bus.writeBytesPhase([]byte{byte(addr << 1)}, true, AckPhaseAddress); err != nil {
		t.Fatalf("address+write phase = %v", err)
	}
	if err := bus.writeBytes([]byte{0x00}, true); err != nil {
		t.Fatalf("pointer register write = %v", err)
	}
	if err := bus.setI2CRepeatedStart(); err != nil {
		t.Fatalf("setI2CRepeatedStart() = %v", err)
	}
	if err := bus.writeBytesPhase([]byte{byte(addr<<1) | 1}, true, AckPhaseAddress); err != nil {
		t.Fatalf("address+read phase = %v", err)
	}
	r := make([]byte, 2)
	if err := bus.readBytes(r); err != nil {
		t.Fatalf("readBytes() = %v", err)
	}
	if err := bus.setI2CStop(); err != nil {
		t.Fatalf("setI2CStop() = %v", err)
	}
	if r[0] != 0x19 || r[1] != 0x40 {
		t.Errorf("read data = %#v, want [0x19 0x40]", r)
	}
}

// TestI2CScan is end-to-end scenario 2: a bus scan where only address 0x48
// ACKs. It drives the same per-address probe Scan does, for the same reason
// TestI2CLM75Read stops short of the trailing setI2CLinesIdle call.
func TestI2CScan(t *testing.T) {
	var reads [][]byte
	for addr := 0; addr < 0x80; addr++ {
		if addr == 0x48 {
			reads = append(reads, []byte{0x00}) // ACK
		} else {
			reads = append(reads, []byte{0x01}) // NACK
		}
	}
	ft := &fakeTransport{reads: reads}
	bus := &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}}
	var found []uint16
	for addr := uint16(0); addr < 0x80; addr++ {
		if err := bus.setI2CStart(); err != nil {
			t.Fatalf("setI2CStart() = %v", err)
		}
		err := bus.writeBytes([]byte{byte(addr<<1) | 1}, true)
		_ = bus.setI2CStop()
		if err == nil {
			found = append(found, addr)
		} else if _, ok := err.(*NoAckError); !ok {
			t.Fatalf("writeBytes(%#x) = %v", addr, err)
		}
	}
	if len(found) != 1 || found[0] != 0x48 {
		t.Fatalf("scan found = %v, want [0x48]", found)
	}
}

// TestI2CTxFastCoalesces checks that WithFastMode drives the whole
// transaction's ACK checks and data reads through a single Exec call instead
// of one per phase. txFast's own return value is masked by the trailing
// setI2CLinesIdle call (see TestI2CLM75Read), so this only asserts on what a
// single coalesced exchange proves: the write count and the extracted data.
func TestI2CTxFastCoalesces(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{0x00, 0x00, 0xaa, 0xbb}}}
	bus := &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}, fastMode: true}
	r := make([]byte, 2)
	ops := []I2COp{I2CWrite([]byte{0x00}), I2CRead(r)}
	_ = bus.txFast(0x48, ops)
	if len(ft.writes) != 1 {
		t.Fatalf("got %d Exec calls, want 1", len(ft.writes))
	}
	if r[0] != 0xaa || r[1] != 0xbb {
		t.Errorf("read data = %#v, want [0xaa 0xbb]", r)
	}
}

func TestI2CTxFastNACKAborts(t *testing.T) {
	// ReadLen is 2: the address ack slot, plus a data-byte ack slot that the
	// permissive last-byte default leaves unchecked (offset -1). Only
	// resp[0], the address ack, needs to carry the NACK bit.
	ft := &fakeTransport{reads: [][]byte{{0x01, 0x00}}}
	bus := &i2cBus{f: &FT232H{ctrl: newFakeController(ft)}, fastMode: true}
	ops := []I2COp{I2CWrite([]byte{0x00})}
	err := bus.txFast(0x48, ops)
	if _, ok := err.(*NoAckError); !ok {
		t.Fatalf("txFast() error = %T, want *NoAckError", err)
	}
}
