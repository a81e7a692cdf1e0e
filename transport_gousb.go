// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build ftdi_gousb

package ftdi

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// FTDI vendor control requests, per AN_232B-01.
const (
	sioResetRequest            = 0
	sioSetLatencyTimerRequest  = 0x09
	sioSetBitModeRequest       = 0x0B
	sioRequestTypeOut          = 0x40
	sioResetPurgeRx      uint16 = 1
	sioResetPurgeTx      uint16 = 2
)

// gousbTransport talks to an FTDI MPSSE channel directly over raw USB bulk
// endpoints, bypassing the proprietary D2XX shared library entirely. Unlike
// d2xxTransport, every bulk-in packet it reads is prefixed by a 2-byte modem
// status header that D2XX normally strips for the caller, and a BadOpcode
// reply surfaces as the first status byte being 0xFA rather than as an
// error from the driver itself.
type gousbTransport struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	intf  *gousb.Interface
	done  func()
	in    *gousb.InEndpoint
	out   *gousb.OutEndpoint
	iface Interface
}

// openGousbTransport opens the given VID:PID device's interface directly
// over libusb and brings it into MPSSE mode, following the same
// reset/purge/latency/bitmode sequence the D2XX driver performs internally.
func openGousbTransport(vid, pid uint16, iface Interface) (*gousbTransport, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, &OpenFailedError{Reason: err.Error()}
	}
	if dev == nil {
		ctx.Close()
		return nil, &OpenFailedError{Reason: "device not found"}
	}
	if err := dev.SetAutoDetach(true); err != nil {
		_ = dev.Close()
		ctx.Close()
		return nil, &OpenFailedError{Reason: err.Error()}
	}
	cfg, err := dev.Config(1)
	if err != nil {
		_ = dev.Close()
		ctx.Close()
		return nil, &OpenFailedError{Reason: err.Error()}
	}
	intf, done, err := cfg.Interface(int(iface), 0)
	if err != nil {
		_ = dev.Close()
		ctx.Close()
		return nil, &OpenFailedError{Reason: err.Error()}
	}
	in, err := intf.InEndpoint(int(iface.readEndpoint()))
	if err != nil {
		done()
		_ = dev.Close()
		ctx.Close()
		return nil, &OpenFailedError{Reason: err.Error()}
	}
	out, err := intf.OutEndpoint(int(iface.writeEndpoint()))
	if err != nil {
		done()
		_ = dev.Close()
		ctx.Close()
		return nil, &OpenFailedError{Reason: err.Error()}
	}
	t := &gousbTransport{ctx: ctx, dev: dev, intf: intf, done: done, in: in, out: out, iface: iface}
	if err := t.sioWrite(sioResetRequest, 0); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.sioWrite(sioResetRequest, sioResetPurgeRx); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.sioWrite(sioResetRequest, sioResetPurgeTx); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.sioWrite(sioSetLatencyTimerRequest, 16); err != nil {
		t.Close()
		return nil, err
	}
	// Reset bitmode first, then switch to MPSSE: the mask byte is ignored in
	// MPSSE mode since the MPSSE engine itself owns pin direction.
	if err := t.sioWrite(sioSetBitModeRequest, 0x0000); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.sioWrite(sioSetBitModeRequest, 0x02<<8); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *gousbTransport) sioWrite(request uint8, value uint16) error {
	_, err := t.dev.Control(sioRequestTypeOut, request, value, t.iface.index(), nil)
	if err != nil {
		return &TransportError{Op: fmt.Sprintf("sio request %#x", request), Err: err}
	}
	return nil
}

// Close releases the underlying USB resources.
func (t *gousbTransport) Close() error {
	t.done()
	err := t.dev.Close()
	t.ctx.Close()
	return err
}

// exchange implements transport. Writes are chunked by the endpoint's
// maximum packet size; reads strip the 2-byte status header FTDI prepends to
// every bulk-in packet and surface a device-reported bad opcode as
// BadOpcodeError.
func (t *gousbTransport) exchange(ctx context.Context, write, readOut []byte) error {
	if len(write) != 0 {
		chunk := t.out.Desc.MaxPacketSize
		if chunk <= 0 {
			chunk = len(write)
		}
		for len(write) > 0 {
			n := len(write)
			if n > chunk {
				n = chunk
			}
			if _, err := t.out.WriteContext(ctx, write[:n]); err != nil {
				return &TransportError{Op: "write", Err: err}
			}
			write = write[n:]
		}
	}
	for len(readOut) > 0 {
		packetSize := t.in.Desc.MaxPacketSize
		if packetSize <= 2 {
			packetSize = 64
		}
		buf := make([]byte, packetSize)
		n, err := t.in.ReadContext(ctx, buf)
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
		if n < 2 {
			continue
		}
		status := buf[:2]
		if status[0] == 0xFA {
			return &BadOpcodeError{Opcode: status[1]}
		}
		payload := buf[2:n]
		m := copy(readOut, payload)
		readOut = readOut[m:]
	}
	return nil
}
