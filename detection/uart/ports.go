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

package uart

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"go.bug.st/serial/enumerator"
)

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// enumerateFn lists ports with USB details; swapped out by tests
var enumerateFn = enumerator.GetDetailedPortsList

// getSerialPorts returns every serial port the enumerator and the platform
// fallbacks know about, without duplicates
func getSerialPorts(ctx context.Context) ([]serialPort, error) {
	details, err := enumerateFn()
	if err != nil {
		rd03d.Debugf("serial enumerator failed: %v", err)
	}

	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		ports = append(ports, fromPortDetails(d))
	}
	ports = mergePorts(ports, platformPorts(ctx))

	if len(ports) == 0 && err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

// fromPortDetails converts an enumerator entry
func fromPortDetails(d *enumerator.PortDetails) serialPort {
	port := serialPort{
		Path:         d.Name,
		Name:         filepath.Base(d.Name),
		Product:      d.Product,
		SerialNumber: d.SerialNumber,
	}
	if d.IsUSB && d.VID != "" && d.PID != "" {
		port.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
	}
	return port
}

// mergePorts appends extra ports not already in ports, filling in metadata
// the first source lacked
func mergePorts(ports, extra []serialPort) []serialPort {
	index := make(map[string]int, len(ports))
	for i, p := range ports {
		index[p.Path] = i
	}
	for _, p := range extra {
		i, ok := index[p.Path]
		if !ok {
			index[p.Path] = len(ports)
			ports = append(ports, p)
			continue
		}
		existing := &ports[i]
		if existing.VIDPID == "" {
			existing.VIDPID = p.VIDPID
		}
		if existing.Manufacturer == "" {
			existing.Manufacturer = p.Manufacturer
		}
		if existing.Product == "" {
			existing.Product = p.Product
		}
	}
	return ports
}
