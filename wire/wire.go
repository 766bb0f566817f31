// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wire implements the nbus message frame codec.
//
// A message frame is a sequence of 32-bit little-endian words:
//
//	start guard    uint32  // 0x7375626b, "kbus" when read as bytes
//	id             uint32  // bus-assigned, 0 when written by a sender
//	to             uint32  // 0 (anyone) or a specific endpoint id
//	from           uint32  // 0 when written by a sender, stamped by the bus
//	flags          uint32
//	name length    uint32  // in bytes
//	payload length uint32  // in words
//	name           [...]uint32 // name bytes, zero-padded to a word boundary
//	payload        [...]uint32
//	end guard      uint32  // 0x6b627573, "subk" when read as bytes
//
// The guards exist only so a decoder can cheaply detect torn or
// misframed buffers; they are not negotiated with a peer. The total
// frame length is 8 + ceil(nameLen/4) + payloadWords words.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// StartGuard and EndGuard are the fixed sentinels bounding every
	// encoded frame.
	StartGuard = 0x7375626b
	EndGuard   = 0x6b627573

	// NamePrefix is the mandatory prefix of every message name.
	NamePrefix = "$."

	// MinNameLen is the shortest legal message name ("$." plus at
	// least one byte).
	MinNameLen = 3

	// MaxNameLen is an arbitrary sanity bound on message names.
	MaxNameLen = 1000

	// headerWords is the number of words before the name; a frame is
	// headerWords + name words + payload words + 1 (end guard).
	headerWords = 7
)

var bin = binary.LittleEndian

var (
	// ErrInvalidName is returned for message or binding names that
	// violate the naming rules.
	ErrInvalidName = errors.New("invalid message name")

	// ErrInvalidPayload is returned when a payload's length is not a
	// multiple of 4 bytes.
	ErrInvalidPayload = errors.New("invalid payload length")

	// ErrCorruptMessage is returned by Decode when a buffer is not a
	// well-formed frame: a guard word is wrong, or the declared
	// lengths do not account for the buffer's size.
	ErrCorruptMessage = errors.New("corrupt message frame")
)

// Message is a decoded bus message.
//
// ID and From are owned by the bus: senders leave them zero and the
// router stamps them during delivery. To is zero for "anyone
// listening" or names a specific endpoint. Flags is carried opaquely.
type Message struct {
	ID      uint32
	To      uint32
	From    uint32
	Flags   uint32
	Name    string
	Payload []byte // length must be a multiple of 4
}

// EncodedLen returns the encoded frame length of m in bytes.
func (m *Message) EncodedLen() int {
	return 4 * (headerWords + 1 + (len(m.Name)+3)/4 + len(m.Payload)/4)
}

// Encode marshals m into a frame.
//
// It fails with ErrInvalidName if m.Name is not a valid message name
// and with ErrInvalidPayload if the payload length is not a multiple
// of 4 bytes.
func (m *Message) Encode() ([]byte, error) {
	if err := CheckName(m.Name); err != nil {
		return nil, err
	}
	if len(m.Payload)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes, want a multiple of 4", ErrInvalidPayload, len(m.Payload))
	}
	nameWords := (len(m.Name) + 3) / 4
	payWords := len(m.Payload) / 4

	b := make([]byte, m.EncodedLen())
	bin.PutUint32(b[0:], StartGuard)
	bin.PutUint32(b[4:], m.ID)
	bin.PutUint32(b[8:], m.To)
	bin.PutUint32(b[12:], m.From)
	bin.PutUint32(b[16:], m.Flags)
	bin.PutUint32(b[20:], uint32(len(m.Name)))
	bin.PutUint32(b[24:], uint32(payWords))
	copy(b[28:], m.Name)
	copy(b[28+4*nameWords:], m.Payload)
	bin.PutUint32(b[len(b)-4:], EndGuard)
	return b, nil
}

// Decode unmarshals a frame.
//
// It fails with ErrCorruptMessage if either guard is wrong or the
// declared name and payload lengths do not account for len(b), and
// with ErrInvalidName if the decoded name is malformed.
func Decode(b []byte) (*Message, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes, not a whole number of words", ErrCorruptMessage, len(b))
	}
	if len(b) < 4*(headerWords+1) {
		return nil, fmt.Errorf("%w: %d bytes, too short for a frame header", ErrCorruptMessage, len(b))
	}
	if g := bin.Uint32(b[0:]); g != StartGuard {
		return nil, fmt.Errorf("%w: start guard %#08x, want %#08x", ErrCorruptMessage, g, StartGuard)
	}
	nameLen := int(bin.Uint32(b[20:]))
	payWords := int(bin.Uint32(b[24:]))
	if nameLen > MaxNameLen {
		return nil, fmt.Errorf("%w: name length %d exceeds %d", ErrCorruptMessage, nameLen, MaxNameLen)
	}
	nameWords := (nameLen + 3) / 4
	total := 4 * (headerWords + 1 + nameWords + payWords)
	if total != len(b) {
		return nil, fmt.Errorf("%w: declared lengths want %d bytes, have %d", ErrCorruptMessage, total, len(b))
	}
	if g := bin.Uint32(b[len(b)-4:]); g != EndGuard {
		return nil, fmt.Errorf("%w: end guard %#08x, want %#08x", ErrCorruptMessage, g, EndGuard)
	}

	m := &Message{
		ID:    bin.Uint32(b[4:]),
		To:    bin.Uint32(b[8:]),
		From:  bin.Uint32(b[12:]),
		Flags: bin.Uint32(b[16:]),
		Name:  string(b[28 : 28+nameLen]),
	}
	if err := CheckName(m.Name); err != nil {
		return nil, err
	}
	if payWords > 0 {
		m.Payload = bytes.Clone(b[28+4*nameWords : 28+4*(nameWords+payWords)])
	}
	return m, nil
}

// Equivalent reports whether a and b are structurally equal, ignoring
// ID and From. Those two fields are stamped by the bus during
// routing, so a message read back is never byte-identical to the one
// written; Equivalent is the read-back comparison.
func Equivalent(a, b *Message) bool {
	return a.To == b.To &&
		a.Flags == b.Flags &&
		a.Name == b.Name &&
		bytes.Equal(a.Payload, b.Payload)
}

// Stamp overwrites the id and from words of an encoded frame. The
// frame must have been produced by Encode.
func Stamp(frame []byte, id, from uint32) {
	bin.PutUint32(frame[4:], id)
	bin.PutUint32(frame[12:], from)
}

// CheckName reports whether name is a valid message name: "$."
// followed by one or more non-empty dot-separated alphanumeric
// components, between MinNameLen and MaxNameLen bytes. Wildcards are
// not valid in message names.
func CheckName(name string) error {
	return checkName(name, false)
}

// CheckBindingName is CheckName, but additionally permits a trailing
// ".*" or ".%" wildcard component, which only matching policies that
// understand wildcards will ever match.
func CheckBindingName(name string) error {
	return checkName(name, true)
}

func checkName(name string, allowWildcard bool) error {
	if len(name) < MinNameLen {
		return fmt.Errorf("%w: %q is shorter than %d bytes", ErrInvalidName, name, MinNameLen)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), MaxNameLen)
	}
	if !strings.HasPrefix(name, NamePrefix) {
		return fmt.Errorf("%w: %q does not start with %q", ErrInvalidName, name, NamePrefix)
	}
	body := name
	if strings.HasSuffix(name, ".*") || strings.HasSuffix(name, ".%") {
		if !allowWildcard {
			return fmt.Errorf("%w: wildcard %q not permitted here", ErrInvalidName, name)
		}
		body = name[:len(name)-2]
	}
	if body[len(body)-1] == '.' {
		return fmt.Errorf("%w: %q has a trailing dot", ErrInvalidName, name)
	}
	lastDot := 1 // the dot of the "$." prefix
	for i := 2; i < len(body); i++ {
		switch c := body[i]; {
		case c == '.':
			if lastDot == i-1 {
				return fmt.Errorf("%w: %q has an empty component", ErrInvalidName, name)
			}
			lastDot = i
		case !isAlnum(c):
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, c)
		}
	}
	return nil
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' ||
		c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z'
}
