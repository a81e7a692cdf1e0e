// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"fmt"
)

// fakeTransport is a scripted, in-memory stand-in for the transport
// interface, used to drive Controller and protocol-engine tests without a
// real device, in the spirit of the loopback-simulated transports SPEC_FULL's
// end-to-end scenarios call for. Every exchange that requests a read consumes
// the next entry of reads, in order; writes are recorded verbatim for
// inspection.
type fakeTransport struct {
	writes [][]byte
	reads  [][]byte
	calls  int
}

func (f *fakeTransport) exchange(ctx context.Context, write, readOut []byte) error {
	if len(write) != 0 {
		f.writes = append(f.writes, append([]byte{}, write...))
	}
	if len(readOut) == 0 {
		return nil
	}
	if f.calls >= len(f.reads) {
		return fmt.Errorf("fakeTransport: no scripted reply for exchange %d", f.calls)
	}
	r := f.reads[f.calls]
	f.calls++
	if len(r) != len(readOut) {
		return fmt.Errorf("fakeTransport: scripted reply length %d != requested %d", len(r), len(readOut))
	}
	copy(readOut, r)
	return nil
}

// newFakeController builds a Controller wired to a fakeTransport, bypassing
// newController (which always wires the real d2xx transport). dbus/cbus are
// given real, disconnected gpiosMPSSE caches (h stays nil) so BankState reads
// succeed; only a SetBankState call would reach the nil handle and fail.
func newFakeController(f *fakeTransport) *Controller {
	return &Controller{t: f, dbus: &gpiosMPSSE{}, cbus: &gpiosMPSSE{}}
}
