// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"math/bits"
	"testing"
)

// TestBuildRequestParity is the "SWD parity round-trip" property: the
// request packet's parity bit must equal popcount(APnDP,RnW,A[3:2]) mod 2.
func TestBuildRequestParity(t *testing.T) {
	for _, isRead := range []bool{false, true} {
		for _, port := range []SwdPort{DP, AP} {
			for reg := byte(0); reg < 4; reg++ {
				req := buildRequest(isRead, SwdAddr{Port: port, Reg: reg})
				if req&1 == 0 {
					t.Fatalf("buildRequest(%v, %+v) = %#x, start bit not set", isRead, SwdAddr{port, reg}, req)
				}
				if req&0x80 == 0 {
					t.Fatalf("buildRequest(%v, %+v) = %#x, park bit not set", isRead, SwdAddr{port, reg}, req)
				}
				fields := (req >> 1) & 0x0f
				wantParity := byte(bits.OnesCount8(fields) & 1)
				gotParity := (req >> 5) & 1
				if gotParity != wantParity {
					t.Errorf("buildRequest(%v, %+v) parity = %d, want %d", isRead, SwdAddr{port, reg}, gotParity, wantParity)
				}
			}
		}
	}
}

func swdIDCODEReads(value uint32, ackBits byte) [][]byte {
	var data [4]byte
	data[0] = byte(value)
	data[1] = byte(value >> 8)
	data[2] = byte(value >> 16)
	data[3] = byte(value >> 24)
	parity := byte(bits.OnesCount32(value) & 1)
	return [][]byte{
		{ackBits << 5},
		{data[0], data[1], data[2], data[3], parity << 7},
	}
}

// TestSWDReadIDCODE is end-to-end scenario 6: reading the IDCODE of an
// STM32G431CBU6 (0x2BA01477) over a freshly enabled SWD link.
func TestSWDReadIDCODE(t *testing.T) {
	const want = uint32(0x2ba01477)
	ft := &fakeTransport{reads: swdIDCODEReads(want, swdAckSuccess)}
	s := &SWD{ctrl: newFakeController(ft)}
	got, err := s.Read(context.Background(), SwdAddr{Port: DP, Reg: 0})
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if got != want {
		t.Errorf("Read() = %#x, want %#x", got, want)
	}
}

func TestSWDReadParityMismatchFails(t *testing.T) {
	const value = uint32(0x2ba01477)
	reads := swdIDCODEReads(value, swdAckSuccess)
	reads[1][4] ^= 0x80 // flip the parity bit the target sent
	ft := &fakeTransport{reads: reads}
	s := &SWD{ctrl: newFakeController(ft)}
	_, err := s.Read(context.Background(), SwdAddr{Port: DP, Reg: 0})
	if _, ok := err.(*ParityError); !ok {
		t.Fatalf("Read() error = %T, want *ParityError", err)
	}
}

func TestSWDReadAckErrors(t *testing.T) {
	tests := []struct {
		ack     byte
		wantErr interface{}
	}{
		{swdAckWait, &AckWaitError{}},
		{swdAckFailed, &AckFaultError{}},
		{0b111, &AckUnknownError{}},
	}
	for _, tt := range tests {
		ft := &fakeTransport{reads: [][]byte{{tt.ack << 5}, {0, 0, 0, 0}}}
		s := &SWD{ctrl: newFakeController(ft)}
		_, err := s.Read(context.Background(), SwdAddr{Port: AP, Reg: 0})
		switch tt.wantErr.(type) {
		case *AckWaitError:
			if _, ok := err.(*AckWaitError); !ok {
				t.Errorf("ack=%#x: error = %T, want *AckWaitError", tt.ack, err)
			}
		case *AckFaultError:
			if _, ok := err.(*AckFaultError); !ok {
				t.Errorf("ack=%#x: error = %T, want *AckFaultError", tt.ack, err)
			}
		case *AckUnknownError:
			if _, ok := err.(*AckUnknownError); !ok {
				t.Errorf("ack=%#x: error = %T, want *AckUnknownError", tt.ack, err)
			}
		}
	}
}

func TestSWDWriteSuccess(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{swdAckSuccess << 5}}}
	s := &SWD{ctrl: newFakeController(ft)}
	if err := s.Write(context.Background(), SwdAddr{Port: DP, Reg: 0}, 0x12345678); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if len(ft.writes) != 2 {
		t.Fatalf("got %d writes, want 2 (request+ack phase, then data phase)", len(ft.writes))
	}
}

func TestSWDWriteAckFailure(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{swdAckFailed << 5}}}
	s := &SWD{ctrl: newFakeController(ft)}
	err := s.Write(context.Background(), SwdAddr{Port: DP, Reg: 0}, 0)
	if _, ok := err.(*AckFaultError); !ok {
		t.Fatalf("Write() error = %T, want *AckFaultError", err)
	}
	if len(ft.writes) != 1 {
		t.Errorf("got %d writes, want 1 (no data phase should be sent after a failed ack)", len(ft.writes))
	}
}
