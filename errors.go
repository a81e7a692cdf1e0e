// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "fmt"

// TransportError wraps a failure reported by the underlying USB transport,
// be it d2xx or a raw bulk backend.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ftdi: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// OpenFailedError is returned when device enumeration or endpoint discovery
// fails while bringing up a channel.
type OpenFailedError struct {
	Reason string
}

func (e *OpenFailedError) Error() string {
	return "ftdi: open failed: " + e.Reason
}

// UnsupportedChipError is returned when the attached device's bcdDevice does
// not map to a chip variant this driver understands.
type UnsupportedChipError struct {
	Variant DevType
}

func (e *UnsupportedChipError) Error() string {
	return fmt.Sprintf("ftdi: unsupported chip type: %s", e.Variant)
}

// ChannelNotMpsseError is returned when MPSSE mode is requested on a channel
// of a chip that does not expose the MPSSE engine on that interface.
type ChannelNotMpsseError struct {
	Chip    DevType
	Channel Interface
}

func (e *ChannelNotMpsseError) Error() string {
	return fmt.Sprintf("ftdi: channel %s of %s does not support MPSSE", e.Channel, e.Chip)
}

// BadOpcodeError is returned when the device rejects an opcode it was sent.
// It indicates either a library bug or a stale command buffer.
type BadOpcodeError struct {
	Opcode byte
}

func (e *BadOpcodeError) Error() string {
	return fmt.Sprintf("ftdi: device rejected opcode %#x", e.Opcode)
}

// PinOutOfRangeError is returned when a pin's bank or index does not exist on
// the chip or channel being used.
type PinOutOfRangeError struct {
	Chip    DevType
	Channel Interface
	Pin     Pin
}

func (e *PinOutOfRangeError) Error() string {
	return fmt.Sprintf("ftdi: pin %s is out of range for %s channel %s", e.Pin, e.Chip, e.Channel)
}

// PinInUseError is returned by pin allocation when the pin is already held by
// another usage.
type PinInUseError struct {
	Pin       Pin
	Requested PinUsage
	Existing  PinUsage
}

func (e *PinInUseError) Error() string {
	return fmt.Sprintf("ftdi: pin %s requested as %s but already in use as %s", e.Pin, e.Requested, e.Existing)
}

// AckPhase identifies which phase of an I²C transaction a NoAckError
// occurred in.
type AckPhase int

const (
	// AckPhaseAddress is the 1-byte address-plus-direction phase.
	AckPhaseAddress AckPhase = iota
	// AckPhaseData is any data byte after the address phase.
	AckPhaseData
)

func (p AckPhase) String() string {
	if p == AckPhaseAddress {
		return "address"
	}
	return "data"
}

// NoAckError is returned by I²C operations when the addressed slave (or, for
// a data phase, the currently selected slave) does not acknowledge.
type NoAckError struct {
	Phase AckPhase
}

func (e *NoAckError) Error() string {
	return fmt.Sprintf("ftdi: i2c: no ack during %s phase", e.Phase)
}

// UnsupportedModeError is returned when a caller requests an SPI mode or
// operation the MPSSE hardware cannot perform.
type UnsupportedModeError struct {
	Reason string
}

func (e *UnsupportedModeError) Error() string {
	return "ftdi: spi: " + e.Reason
}

// AckWaitError is returned by an SWD transaction when the target responds
// WAIT (ACK == 0b010).
type AckWaitError struct{}

func (e *AckWaitError) Error() string { return "ftdi: swd: target responded WAIT" }

// AckFaultError is returned by an SWD transaction when the target responds
// FAULT (ACK == 0b100).
type AckFaultError struct{}

func (e *AckFaultError) Error() string { return "ftdi: swd: target responded FAULT" }

// AckUnknownError is returned when the 3-bit ACK field does not match any of
// the three defined responses.
type AckUnknownError struct {
	Bits byte
}

func (e *AckUnknownError) Error() string {
	return fmt.Sprintf("ftdi: swd: unknown ack %#03b", e.Bits)
}

// ParityError is returned when the parity bit of an SWD data phase does not
// match the popcount of the data word.
type ParityError struct{}

func (e *ParityError) Error() string { return "ftdi: swd: parity mismatch" }
