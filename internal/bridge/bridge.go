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

// Package bridge drives the NXP SC16IS750 I2C/SPI-to-UART bridge that lets a
// host without a spare serial port read the RD-03D over I2C or SPI.
//
// The package only knows the register map. Bus framing (the sub-address byte
// on I2C, the read flag on SPI) belongs to the transports, which implement
// RegisterIO.
package bridge

import (
	"fmt"
	"math"

	rd03d "github.com/ZaparooProject/go-rd03d"
)

// General register set, addressed with LCR[7] = 0
const (
	RegRHR   byte = 0x00 // receive holding register (read)
	RegTHR   byte = 0x00 // transmit holding register (write)
	RegIER   byte = 0x01
	RegFCR   byte = 0x02 // write only
	RegLCR   byte = 0x03
	RegMCR   byte = 0x04
	RegLSR   byte = 0x05
	RegSPR   byte = 0x07 // scratchpad
	RegTXLVL byte = 0x08
	RegRXLVL byte = 0x09
)

// Special register set, addressed with LCR[7] = 1
const (
	RegDLL byte = 0x00
	RegDLH byte = 0x01
)

// Enhanced register set, addressed with LCR = 0xBF
const (
	RegEFR byte = 0x02
)

// Register values
const (
	lcrDivisorLatch byte = 0x80
	lcrEnhanced     byte = 0xBF
	lcr8N1          byte = 0x03
	efrEnhanced     byte = 0x10
	fcrEnableReset  byte = 0x07 // FIFO enable, reset RX and TX FIFO
	ierPolled       byte = 0x00

	lsrDataReady byte = 0x01
	lsrOverrun   byte = 0x02
)

// Bridge limits
const (
	// FIFOSize is the depth of the receive FIFO.
	FIFOSize = 64
	// DefaultCrystalHz is the crystal fitted to most breakout boards.
	DefaultCrystalHz = 14_745_600
	// MaxBaudError is the largest relative baud rate error Configure accepts.
	MaxBaudError = 0.03
	// ReadFlag marks a register read in the SPI command byte.
	ReadFlag byte = 0x80
)

// ErrScratchpadMismatch is returned by Ping when the scratchpad does not hold
// what was written. It matches rd03d.ErrInvalidResponse.
var ErrScratchpadMismatch = fmt.Errorf("%w: scratchpad mismatch", rd03d.ErrInvalidResponse)

// RegisterIO reads and writes bridge registers over a bus
type RegisterIO interface {
	ReadReg(reg byte) (byte, error)
	WriteReg(reg, val byte) error
	// ReadFIFO burst-reads len(buf) bytes from RHR
	ReadFIFO(buf []byte) error
}

// SubAddress builds the register address byte for reg on UART channel ch
// (always 0 on the single-channel SC16IS750).
func SubAddress(reg, ch byte) byte {
	return (reg&0x0F)<<3 | (ch&0x03)<<1
}

// Bridge is one SC16IS750 UART channel
type Bridge struct {
	io        RegisterIO
	crystalHz int
	baud      int
	overruns  int
}

// New creates a bridge over io. A crystalHz of 0 selects DefaultCrystalHz.
func New(io RegisterIO, crystalHz int) *Bridge {
	if crystalHz <= 0 {
		crystalHz = DefaultCrystalHz
	}
	return &Bridge{io: io, crystalHz: crystalHz}
}

// Divisor returns the baud rate divisor for baud and the rate it actually
// produces. It fails with rd03d.ErrBaudRateUnreachable when the achievable
// rate is more than MaxBaudError away from baud.
func Divisor(crystalHz, baud int) (divisor uint16, actual int, err error) {
	if baud <= 0 {
		return 0, 0, fmt.Errorf("%w: %d", rd03d.ErrInvalidBaudRate, baud)
	}

	exact := float64(crystalHz) / float64(16*baud)
	div := math.Round(exact)
	if div < 1 || div > math.MaxUint16 {
		return 0, 0, fmt.Errorf("%w: %d baud from %d Hz crystal", rd03d.ErrBaudRateUnreachable, baud, crystalHz)
	}

	actual = int(math.Round(float64(crystalHz) / (16 * div)))
	if math.Abs(float64(actual-baud))/float64(baud) > MaxBaudError {
		return 0, actual, fmt.Errorf("%w: %d baud from %d Hz crystal (closest %d)",
			rd03d.ErrBaudRateUnreachable, baud, crystalHz, actual)
	}
	return uint16(div), actual, nil
}

// Configure sets the UART to baud, 8N1, with both FIFOs enabled and flushed,
// and interrupts off.
func (b *Bridge) Configure(baud int) error {
	divisor, actual, err := Divisor(b.crystalHz, baud)
	if err != nil {
		return err
	}

	steps := []struct {
		name string
		reg  byte
		val  byte
	}{
		{"LCR", RegLCR, lcrDivisorLatch},
		{"DLL", RegDLL, byte(divisor)},
		{"DLH", RegDLH, byte(divisor >> 8)},
		{"LCR", RegLCR, lcrEnhanced},
		{"EFR", RegEFR, efrEnhanced},
		{"LCR", RegLCR, lcr8N1},
		{"FCR", RegFCR, fcrEnableReset},
		{"IER", RegIER, ierPolled},
	}
	for _, step := range steps {
		if err := b.io.WriteReg(step.reg, step.val); err != nil {
			return fmt.Errorf("failed to write %s: %w", step.name, err)
		}
	}

	b.baud = baud
	rd03d.Debugf("SC16IS750 configured: %d baud (divisor %d, actual %d)", baud, divisor, actual)
	return nil
}

// Baud returns the rate set by the last successful Configure
func (b *Bridge) Baud() int {
	return b.baud
}

// RxLevel returns how many bytes are waiting in the receive FIFO
func (b *Bridge) RxLevel() (int, error) {
	level, err := b.io.ReadReg(RegRXLVL)
	if err != nil {
		return 0, fmt.Errorf("failed to read RXLVL: %w", err)
	}
	return int(level), nil
}

// Drain reads up to len(buf) waiting bytes from the receive FIFO and returns
// how many were read. It never blocks waiting for data.
func (b *Bridge) Drain(buf []byte) (int, error) {
	level, err := b.RxLevel()
	if err != nil {
		return 0, err
	}
	n := min(level, len(buf), FIFOSize)
	if n == 0 {
		return 0, nil
	}

	if level >= FIFOSize {
		b.checkOverrun()
	}

	if err := b.io.ReadFIFO(buf[:n]); err != nil {
		return 0, fmt.Errorf("failed to read RHR: %w", err)
	}
	return n, nil
}

// checkOverrun logs when the FIFO has overflowed since the last check
func (b *Bridge) checkOverrun() {
	lsr, err := b.io.ReadReg(RegLSR)
	if err != nil || lsr&lsrOverrun == 0 {
		return
	}
	b.overruns++
	rd03d.Debugf("SC16IS750 receive FIFO overrun (%d so far); poll faster", b.overruns)
}

// Overruns returns how many FIFO overruns have been seen
func (b *Bridge) Overruns() int {
	return b.overruns
}

// DataReady reports whether the line status register shows unread data
func (b *Bridge) DataReady() (bool, error) {
	lsr, err := b.io.ReadReg(RegLSR)
	if err != nil {
		return false, fmt.Errorf("failed to read LSR: %w", err)
	}
	return lsr&lsrDataReady != 0, nil
}

// Ping checks that an SC16IS750 answers by round-tripping two patterns
// through the scratchpad register.
func (b *Bridge) Ping() error {
	for _, pattern := range []byte{0x5A, 0xA5} {
		if err := b.io.WriteReg(RegSPR, pattern); err != nil {
			return fmt.Errorf("failed to write SPR: %w", err)
		}
		got, err := b.io.ReadReg(RegSPR)
		if err != nil {
			return fmt.Errorf("failed to read SPR: %w", err)
		}
		if got != pattern {
			return fmt.Errorf("%w: wrote %#02x, read %#02x", ErrScratchpadMismatch, pattern, got)
		}
	}
	return nil
}
