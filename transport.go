// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "context"

// transport is the boundary between a CommandBuilder's opcode stream and the
// physical USB link. exchange writes the full command stream and, if
// readOut is non-empty, blocks until exactly len(readOut) reply bytes have
// been collected.
//
// There are two implementations: d2xxTransport, which delegates to the
// cgo-backed FTDI D2XX driver already wrapped by handle, and the
// build-tag-gated gousbTransport, which talks to the device over raw USB
// bulk endpoints and must itself strip the 2-byte modem-status header every
// D2XX read silently discards.
type transport interface {
	exchange(ctx context.Context, write []byte, readOut []byte) error
}

// d2xxTransport is the default transport, used whenever the proprietary
// D2XX shared library is available on the host.
type d2xxTransport struct {
	h *handle
}

func (t *d2xxTransport) exchange(ctx context.Context, write, readOut []byte) error {
	if len(write) != 0 {
		if _, err := t.h.Write(write); err != nil {
			return &TransportError{Op: "write", Err: err}
		}
	}
	if len(readOut) != 0 {
		if _, err := t.h.ReadAll(ctx, readOut); err != nil {
			return &TransportError{Op: "read", Err: err}
		}
	}
	return nil
}
