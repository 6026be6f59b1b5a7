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

//go:build linux

package uart

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// sysClassTTY is where the kernel lists tty devices; swapped out by tests
var sysClassTTY = "/sys/class/tty"

// platformPorts adds sysfs USB descriptors and the board UARTs of
// single-board computers, which the enumerator may miss or leave bare
func platformPorts(ctx context.Context) []serialPort {
	ports := usbPortsFromSysfs(ctx)
	return append(ports, boardUARTs()...)
}

// usbPortsFromSysfs returns USB tty devices with their descriptors
func usbPortsFromSysfs(ctx context.Context) []serialPort {
	entries, err := os.ReadDir(sysClassTTY)
	if err != nil {
		return nil
	}

	var ports []serialPort
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if port, ok := usbPortFromEntry(entry.Name()); ok {
			ports = append(ports, port)
		}
	}
	return ports
}

// usbPortFromEntry resolves one /sys/class/tty entry to its USB device
func usbPortFromEntry(name string) (serialPort, bool) {
	resolved, err := filepath.EvalSymlinks(filepath.Join(sysClassTTY, name, "device"))
	if err != nil || !strings.Contains(resolved, "/usb") {
		return serialPort{}, false
	}

	port := serialPort{Path: "/dev/" + name, Name: name}
	readUSBAttributes(&port, resolved)
	return port, true
}

// readUSBAttributes walks up the device tree to the USB device node
func readUSBAttributes(port *serialPort, devicePath string) {
	current := devicePath
	for range 10 {
		if readUSBIdentifiers(port, current) {
			return
		}
		current = filepath.Dir(current)
		if current == "/" || current == "." {
			return
		}
	}
}

// readUSBIdentifiers reads idVendor/idProduct and the string descriptors
func readUSBIdentifiers(port *serialPort, path string) bool {
	vid, ok := readSysAttr(path, "idVendor")
	if !ok {
		return false
	}
	pid, ok := readSysAttr(path, "idProduct")
	if !ok {
		return false
	}
	port.VIDPID = strings.ToUpper(vid + ":" + pid)
	port.Manufacturer, _ = readSysAttr(path, "manufacturer")
	port.Product, _ = readSysAttr(path, "product")
	port.SerialNumber, _ = readSysAttr(path, "serial")
	return true
}

// readSysAttr reads one trimmed sysfs attribute file
func readSysAttr(dir, attr string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(filepath.Clean(dir), attr)) // #nosec G304 -- sysfs attribute
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// boardUARTs returns the on-board serial ports, with /dev/serial0 (the
// Raspberry Pi's GPIO header UART alias) listed under its alias
func boardUARTs() []serialPort {
	var ports []serialPort
	for _, pattern := range []string{"/dev/serial0", "/dev/ttyAMA*", "/dev/ttyS0", "/dev/ttyTHS*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range matches {
			if _, err := os.Stat(path); err == nil {
				ports = append(ports, serialPort{Path: path, Name: filepath.Base(path)})
			}
		}
	}
	return ports
}
