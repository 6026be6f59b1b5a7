// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"errors"
	"testing"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChip models the SC16IS750 register banks selected by LCR
type fakeChip struct {
	writeErr error
	general  map[byte]byte
	fifo     []byte
	writes   []string
	dll, dlh byte
	efr      byte
	lcr      byte
	brokenSP bool
}

func newFakeChip() *fakeChip {
	return &fakeChip{general: map[byte]byte{}}
}

func (f *fakeChip) ReadReg(reg byte) (byte, error) {
	switch {
	case f.lcr&lcrDivisorLatch != 0 && f.lcr != lcrEnhanced && reg == RegDLL:
		return f.dll, nil
	case f.lcr&lcrDivisorLatch != 0 && f.lcr != lcrEnhanced && reg == RegDLH:
		return f.dlh, nil
	case reg == RegRXLVL:
		return byte(min(len(f.fifo), FIFOSize)), nil
	case reg == RegLSR:
		lsr := f.general[RegLSR]
		if len(f.fifo) > 0 {
			lsr |= lsrDataReady
		}
		return lsr, nil
	case reg == RegSPR && f.brokenSP:
		return 0xFF, nil
	}
	return f.general[reg], nil
}

func (f *fakeChip) WriteReg(reg, val byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	switch {
	case reg == RegLCR:
		f.lcr = val
	case f.lcr == lcrEnhanced && reg == RegEFR:
		f.efr = val
	case f.lcr&lcrDivisorLatch != 0 && reg == RegDLL:
		f.dll = val
	case f.lcr&lcrDivisorLatch != 0 && reg == RegDLH:
		f.dlh = val
	case reg == RegFCR && val&0x02 != 0:
		f.fifo = nil
		f.general[reg] = val
	default:
		f.general[reg] = val
	}
	return nil
}

func (f *fakeChip) ReadFIFO(buf []byte) error {
	if len(buf) > len(f.fifo) {
		return errors.New("FIFO underrun")
	}
	copy(buf, f.fifo)
	f.fifo = f.fifo[len(buf):]
	return nil
}

func TestDivisor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr     error
		name        string
		crystal     int
		baud        int
		wantDivisor uint16
		wantActual  int
	}{
		{name: "115200_standard_crystal", crystal: DefaultCrystalHz, baud: 115200, wantDivisor: 8, wantActual: 115200},
		{name: "9600_standard_crystal", crystal: DefaultCrystalHz, baud: 9600, wantDivisor: 96, wantActual: 9600},
		{name: "256000_24mhz", crystal: 24_000_000, baud: 256000, wantDivisor: 6, wantActual: 250000},
		{name: "256000_standard_crystal", crystal: DefaultCrystalHz, baud: 256000, wantErr: rd03d.ErrBaudRateUnreachable},
		{name: "too_fast", crystal: DefaultCrystalHz, baud: 2_000_000, wantErr: rd03d.ErrBaudRateUnreachable},
		{name: "zero_baud", crystal: DefaultCrystalHz, baud: 0, wantErr: rd03d.ErrInvalidBaudRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			div, actual, err := Divisor(tt.crystal, tt.baud)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDivisor, div)
			assert.Equal(t, tt.wantActual, actual)
		})
	}
}

func TestBridge_Configure(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	chip.fifo = []byte{0x01, 0x02}
	b := New(chip, 24_000_000)

	require.NoError(t, b.Configure(256000))

	assert.Equal(t, byte(6), chip.dll)
	assert.Equal(t, byte(0), chip.dlh)
	assert.Equal(t, efrEnhanced, chip.efr)
	assert.Equal(t, lcr8N1, chip.lcr)
	assert.Equal(t, ierPolled, chip.general[RegIER])
	assert.Empty(t, chip.fifo, "FCR reset should flush the RX FIFO")
	assert.Equal(t, 256000, b.Baud())
}

func TestBridge_ConfigureDefaultCrystal(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	b := New(chip, 0)

	require.ErrorIs(t, b.Configure(256000), rd03d.ErrBaudRateUnreachable)
	assert.Zero(t, b.Baud())

	require.NoError(t, b.Configure(115200))
	assert.Equal(t, byte(8), chip.dll)
}

func TestBridge_ConfigureWriteError(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	chip.writeErr = rd03d.ErrTransportWrite
	b := New(chip, 0)

	err := b.Configure(115200)
	require.ErrorIs(t, err, rd03d.ErrTransportWrite)
	assert.Contains(t, err.Error(), "LCR")
}

func TestBridge_Drain(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	chip.fifo = []byte{0xAA, 0xFF, 0x03, 0x00, 0x10}
	b := New(chip, 0)

	buf := make([]byte, 3)
	n, err := b.Drain(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0xAA, 0xFF, 0x03}, buf)

	n, err = b.Drain(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x00, 0x10}, buf[:n])

	n, err = b.Drain(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBridge_DrainFullFIFOChecksOverrun(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	chip.fifo = make([]byte, 100)
	chip.general[RegLSR] = lsrOverrun
	b := New(chip, 0)

	buf := make([]byte, 128)
	n, err := b.Drain(buf)
	require.NoError(t, err)
	assert.Equal(t, FIFOSize, n)
	assert.Equal(t, 1, b.Overruns())
}

func TestBridge_DataReady(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	b := New(chip, 0)

	ready, err := b.DataReady()
	require.NoError(t, err)
	assert.False(t, ready)

	chip.fifo = []byte{0x01}
	ready, err = b.DataReady()
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestBridge_Ping(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	require.NoError(t, New(chip, 0).Ping())
	assert.Equal(t, byte(0xA5), chip.general[RegSPR])

	chip.brokenSP = true
	err := New(chip, 0).Ping()
	require.ErrorIs(t, err, ErrScratchpadMismatch)
	require.ErrorIs(t, err, rd03d.ErrInvalidResponse)
}

func TestSubAddress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, byte(0x00), SubAddress(RegRHR, 0))
	assert.Equal(t, byte(0x18), SubAddress(RegLCR, 0))
	assert.Equal(t, byte(0x48), SubAddress(RegRXLVL, 0))
	assert.Equal(t, byte(0x3A), SubAddress(RegSPR, 1))
}
