// Package sysex frames MIDI-CI payloads as complete System Exclusive
// messages (F0 ... F7) and back, using gomidi's message type.
package sysex

import (
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"

	"github.com/midici-protocol/midici-go/pkg/wire"
)

const (
	// Start is the SysEx start byte.
	Start byte = 0xF0
	// End is the SysEx end byte.
	End byte = 0xF7
)

// ErrNotSysEx is returned for input that is not a complete SysEx message.
var ErrNotSysEx = errors.New("not a complete SysEx message")

// Frame wraps a payload in F0 ... F7.
func Frame(payload []byte) []byte {
	return []byte(midi.SysEx(payload))
}

// Unframe returns the payload between F0 and F7.
func Unframe(msg []byte) ([]byte, error) {
	if len(msg) < 2 || msg[0] != Start || msg[len(msg)-1] != End {
		return nil, ErrNotSysEx
	}
	// gomidi rejects messages shorter than three bytes.
	if len(msg) == 2 {
		return []byte{}, nil
	}
	var payload []byte
	if !midi.Message(msg).GetSysEx(&payload) {
		return nil, ErrNotSysEx
	}
	return payload, nil
}

// Encode encodes msg and frames it as SysEx.
func Encode(msg wire.Message) ([]byte, error) {
	payload, err := wire.Encode(msg)
	if err != nil {
		return nil, err
	}
	return Frame(payload), nil
}

// Decode accepts a framed SysEx message or a bare payload and decodes the
// MIDI-CI message it carries.
func Decode(data []byte) (wire.Message, error) {
	payload := data
	if len(data) > 0 && data[0] == Start {
		p, err := Unframe(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", wire.ErrMalformedMessage, err)
		}
		payload = p
	}
	return wire.Decode(payload)
}
