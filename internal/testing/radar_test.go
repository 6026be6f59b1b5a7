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

package testing

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ZaparooProject/go-rd03d/internal/frame"
)

// collect feeds stream through a synchronizer and returns the payloads and trailer mismatches seen
func collect(stream []byte) (payloads [][]byte, mismatches int) {
	var s frame.Synchronizer
	for _, b := range stream {
		payload, ev := s.Feed(b)
		switch ev {
		case frame.EventFrame:
			payloads = append(payloads, append([]byte(nil), payload...))
		case frame.EventTrailerMismatch:
			mismatches++
		case frame.EventNone:
		}
	}
	return payloads, mismatches
}

var scriptedTargets = []RadarTarget{
	{X: 1000, Y: 500, Speed: -20, PixelDistance: 1234},
	{X: -250, Y: 1800, Speed: 12, PixelDistance: 40},
	NoTarget,
	{X: 0, Y: 300, Speed: 0, PixelDistance: 1},
	{X: 32767, Y: -32767, Speed: 5, PixelDistance: 0xFFFF},
}

func TestVirtualRadar_StreamSynchronizes(t *testing.T) {
	t.Parallel()

	radar := NewVirtualRadar(RadarConfig{MaxNoiseBytes: 17, Seed: 7}, scriptedTargets...)
	stream, err := io.ReadAll(radar)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	payloads, mismatches := collect(stream)
	if mismatches != 0 {
		t.Fatalf("unexpected trailer mismatches: %d", mismatches)
	}
	if len(payloads) != len(scriptedTargets) {
		t.Fatalf("got %d frames, want %d", len(payloads), len(scriptedTargets))
	}
	for i, target := range scriptedTargets {
		if !bytes.Equal(payloads[i], EncodePayload(target)) {
			t.Errorf("frame %d payload = %X, want %X", i, payloads[i], EncodePayload(target))
		}
	}
	if radar.FramesEmitted() != len(scriptedTargets) {
		t.Errorf("FramesEmitted = %d, want %d", radar.FramesEmitted(), len(scriptedTargets))
	}
}

func TestVirtualRadar_CorruptEvery(t *testing.T) {
	t.Parallel()

	radar := NewVirtualRadar(RadarConfig{CorruptEvery: 2, Seed: 1}, scriptedTargets[:4]...)
	stream, err := io.ReadAll(radar)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	payloads, mismatches := collect(stream)
	if len(payloads) != 2 || mismatches != 2 {
		t.Fatalf("got %d frames and %d mismatches, want 2 and 2", len(payloads), mismatches)
	}
	if radar.CorruptedFrames() != 2 {
		t.Errorf("CorruptedFrames = %d, want 2", radar.CorruptedFrames())
	}
	if !bytes.Equal(payloads[0], EncodePayload(scriptedTargets[0])) {
		t.Errorf("first surviving frame should be target 0")
	}
}

func TestVirtualRadar_EOFAndQueue(t *testing.T) {
	t.Parallel()

	radar := NewVirtualRadar(RadarConfig{Seed: 3})
	buf := make([]byte, 8)
	if _, err := radar.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("empty radar Read error = %v, want io.EOF", err)
	}

	radar.Queue(scriptedTargets[0])
	stream, err := io.ReadAll(radar)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(stream) != frame.FrameSize {
		t.Fatalf("stream length = %d, want %d", len(stream), frame.FrameSize)
	}
}

func TestVirtualRadar_Loop(t *testing.T) {
	t.Parallel()

	radar := NewVirtualRadar(RadarConfig{Loop: true, Seed: 9}, scriptedTargets[:2]...)
	buf := make([]byte, frame.FrameSize*7)
	n, err := io.ReadFull(radar, buf)
	if err != nil {
		t.Fatalf("ReadFull failed after %d bytes: %v", n, err)
	}

	payloads, _ := collect(buf)
	if len(payloads) != 7 {
		t.Fatalf("got %d frames, want 7", len(payloads))
	}
	if !bytes.Equal(payloads[2], EncodePayload(scriptedTargets[0])) {
		t.Errorf("third frame should repeat the first target")
	}
}

func TestVirtualRadar_NextFrame(t *testing.T) {
	t.Parallel()

	radar := NewVirtualRadar(RadarConfig{MaxNoiseBytes: 50}, scriptedTargets[0])
	got, ok := radar.NextFrame()
	if !ok {
		t.Fatal("NextFrame returned no frame")
	}
	want, err := frame.BuildFrame(EncodePayload(scriptedTargets[0]))
	if err != nil {
		t.Fatalf("BuildFrame failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("NextFrame = %X, want %X", got, want)
	}
	if _, ok := radar.NextFrame(); ok {
		t.Error("NextFrame should be exhausted")
	}
}

func TestVirtualRadar_WritesIgnored(t *testing.T) {
	t.Parallel()

	radar := NewVirtualRadar(RadarConfig{Seed: 2}, scriptedTargets[0])
	n, err := radar.Write([]byte{0xFD, 0xFC, 0xFB, 0xFA})
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if radar.BytesWritten() != 4 {
		t.Errorf("BytesWritten = %d, want 4", radar.BytesWritten())
	}
	frameBytes, _ := radar.NextFrame()
	if len(frameBytes) != frame.FrameSize {
		t.Errorf("write changed output")
	}
}

func TestEncodeSigned(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int16
		want uint16
	}{
		{in: 0, want: 0x8000},
		{in: 5, want: 0x8005},
		{in: -5, want: 0x0005},
		{in: 32767, want: 0xFFFF},
		{in: -32767, want: 0x7FFF},
		{in: -32768, want: 0x7FFF},
	}
	for _, tt := range tests {
		if got := EncodeSigned(tt.in); got != tt.want {
			t.Errorf("EncodeSigned(%d) = %#04x, want %#04x", tt.in, got, tt.want)
		}
	}
}
