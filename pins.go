// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "fmt"

// PinBank identifies one of the two 8-pin GPIO banks exposed by the MPSSE
// engine. Lower maps to the D bus (ADBus on FT232H), Upper to the C bus
// (ACBus); the upper bank is absent on some chips and channels.
type PinBank int

const (
	// BankLower is the D bus, always present on MPSSE-capable channels.
	BankLower PinBank = iota
	// BankUpper is the C bus, present only on FT232H/FT2232H (8 pins).
	BankUpper
)

func (b PinBank) String() string {
	if b == BankUpper {
		return "upper"
	}
	return "lower"
}

// Pin identifies a single GPIO line by bank and index within the bank.
type Pin struct {
	Bank  PinBank
	Index int
}

func (p Pin) String() string {
	return fmt.Sprintf("%s[%d]", p.Bank, p.Index)
}

// mask returns the single-bit mask of this pin within its bank byte.
func (p Pin) mask() byte {
	return 1 << uint(p.Index)
}

// Lower is a convenience constructor for a Pin on the lower (D) bank.
func Lower(index int) Pin { return Pin{Bank: BankLower, Index: index} }

// Upper is a convenience constructor for a Pin on the upper (C) bank.
func Upper(index int) Pin { return Pin{Bank: BankUpper, Index: index} }

// PinUsage records what a pin currently allocated for the MPSSE channel is
// being used for. Every allocated pin holds exactly one usage; unallocated
// pins are PinUsageNone.
type PinUsage int

const (
	// PinUsageNone marks a pin that is free.
	PinUsageNone PinUsage = iota
	// PinUsageInput marks a pin reserved as a plain GPIO input.
	PinUsageInput
	// PinUsageOutput marks a pin reserved as a plain GPIO output.
	PinUsageOutput
	// PinUsageI2C marks a pin reserved by the I²C master.
	PinUsageI2C
	// PinUsageSpi marks a pin reserved by an SPI bus/device.
	PinUsageSpi
	// PinUsageJtag marks a pin reserved by the JTAG engine or detector.
	PinUsageJtag
	// PinUsageSwd marks a pin reserved by the SWD engine.
	PinUsageSwd
)

func (u PinUsage) String() string {
	switch u {
	case PinUsageInput:
		return "input"
	case PinUsageOutput:
		return "output"
	case PinUsageI2C:
		return "i2c"
	case PinUsageSpi:
		return "spi"
	case PinUsageJtag:
		return "jtag"
	case PinUsageSwd:
		return "swd"
	default:
		return "none"
	}
}

// mpsseCapable reports whether a usage requires the channel to have the
// MPSSE engine enabled, as opposed to plain async/sync bit-bang GPIO.
func (u PinUsage) mpsseCapable() bool {
	switch u {
	case PinUsageI2C, PinUsageSpi, PinUsageJtag, PinUsageSwd:
		return true
	default:
		return false
	}
}
