// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "fmt"

// Interface identifies one of up to four independent USB interfaces exposed
// by a multi-channel FTDI chip (FT2232H exposes A/B, FT4232H exposes
// A/B/C/D). Single-channel chips such as the FT232H only ever use
// InterfaceA. The d2xx driver already dedicates one device index per
// interface, so interface-aware endpoint addressing only matters to the
// raw-USB transport.
type Interface int

const (
	InterfaceA Interface = iota
	InterfaceB
	InterfaceC
	InterfaceD
)

func (i Interface) String() string {
	switch i {
	case InterfaceA:
		return "A"
	case InterfaceB:
		return "B"
	case InterfaceC:
		return "C"
	case InterfaceD:
		return "D"
	default:
		return fmt.Sprintf("Interface(%d)", int(i))
	}
}

// number returns the 1-based USB interface number used in the bInterfaceNumber
// field and in control request indices.
func (i Interface) number() uint16 {
	return uint16(i) + 1
}

// index returns the wIndex value used in FTDI vendor control requests, which
// for multi-interface chips packs the interface number in place of the
// channel-less single-interface value of 1.
func (i Interface) index() uint16 {
	return i.number()
}

// readEndpoint returns the bulk-in endpoint address for this interface.
func (i Interface) readEndpoint() uint8 {
	return 0x81 + 2*uint8(i)
}

// writeEndpoint returns the bulk-out endpoint address for this interface.
func (i Interface) writeEndpoint() uint8 {
	return 0x02 + 2*uint8(i)
}
