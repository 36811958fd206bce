// go-termlink
// Copyright (c) 2025 The Termlink Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-termlink.
//
// go-termlink is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-termlink is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-termlink; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package frame implements the hex framing wire protocol used over
// byte-oriented cable transports.
//
// A frame is a run of ASCII hex characters: the start marker "FF", four
// uppercase hex digits holding the payload byte length, the payload encoded
// as uppercase hex, two hex digits holding the checksum (payload byte-sum
// mod 256) and the end marker "FE". The payload "OK" encodes to
// "FF00024F4B9AFE".
package frame

import (
	"bytes"
	"errors"
	"fmt"
)

// Frame markers. Both are two-character runs on the wire, not single bytes.
const (
	StartMarker = "FF"
	EndMarker   = "FE"
)

// Frame size limits
const (
	// MaxPayloadSize is the largest payload one frame can carry, bounded by
	// the four length digits
	MaxPayloadSize = 0xFFFF

	headerChars  = 6 // start marker + 4 length digits
	trailerChars = 4 // 2 checksum digits + end marker
)

// ErrPayloadTooLarge indicates a payload exceeding MaxPayloadSize
var ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")

const hexDigits = "0123456789ABCDEF"

// encodedChars returns the full character count of a frame carrying
// payloadLen payload bytes.
func encodedChars(payloadLen int) int {
	return headerChars + 2*payloadLen + trailerChars
}

// Checksum returns the sum of all bytes truncated to 8 bits.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Encode wraps payload into one wire frame.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, encodedChars(len(payload)))
	buf = append(buf, StartMarker...)
	buf = append(buf,
		hexDigits[(len(payload)>>12)&0xF],
		hexDigits[(len(payload)>>8)&0xF],
		hexDigits[(len(payload)>>4)&0xF],
		hexDigits[len(payload)&0xF],
	)
	for _, b := range payload {
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0xF])
	}
	sum := Checksum(payload)
	buf = append(buf, hexDigits[sum>>4], hexDigits[sum&0xF])
	buf = append(buf, EndMarker...)
	return buf, nil
}

// Decode scans buf for complete frames and returns the decoded payloads in
// order, plus how many leading characters were fully consumed.
//
// The scan is resumable: a trailing partial frame is never consumed, so the
// caller trims exactly consumed characters and appends the next fragment. A
// frame with a bad end marker, bad hex or bad checksum is skipped by
// advancing two characters past its start marker; the remaining buffer is
// preserved and scanning continues.
func Decode(buf []byte) (frames [][]byte, consumed int) {
	i := 0
	for {
		p := bytes.Index(buf[i:], []byte(StartMarker))
		if p < 0 {
			// No start marker left. Everything is droppable garbage except a
			// trailing 'F', which may be the first half of a split marker.
			consumed = len(buf)
			if consumed > i && buf[consumed-1] == StartMarker[0] {
				consumed--
			}
			if consumed < i {
				consumed = i
			}
			return frames, consumed
		}
		p += i

		if len(buf)-p < headerChars {
			return frames, p
		}
		length, ok := parseHex(buf[p+2 : p+6])
		if !ok {
			i = p + 2
			continue
		}
		total := encodedChars(length)
		if len(buf)-p < total {
			return frames, p
		}

		if !bytes.Equal(buf[p+total-2:p+total], []byte(EndMarker)) {
			i = p + 2
			continue
		}
		payload, ok := decodeHexPayload(buf[p+6 : p+6+2*length])
		if !ok {
			i = p + 2
			continue
		}
		sum, ok := parseHex(buf[p+6+2*length : p+total-2])
		if !ok || byte(sum) != Checksum(payload) {
			i = p + 2
			continue
		}

		frames = append(frames, payload)
		i = p + total
	}
}

// parseHex parses a run of hex digits into an int. Lowercase is accepted on
// input even though encoding always emits uppercase.
func parseHex(digits []byte) (int, bool) {
	value := 0
	for _, d := range digits {
		v := hexVal(d)
		if v < 0 {
			return 0, false
		}
		value = value<<4 | v
	}
	return value, true
}

func decodeHexPayload(digits []byte) ([]byte, bool) {
	payload := make([]byte, len(digits)/2)
	for i := range payload {
		hi := hexVal(digits[2*i])
		lo := hexVal(digits[2*i+1])
		if hi < 0 || lo < 0 {
			return nil, false
		}
		payload[i] = byte(hi<<4 | lo)
	}
	return payload, true
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}
