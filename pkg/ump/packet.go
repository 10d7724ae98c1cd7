package ump

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet errors.
var (
	ErrTruncated      = errors.New("truncated UMP packet")
	ErrMalformed      = errors.New("malformed UMP stream message")
	ErrUnknownStatus  = errors.New("unknown UMP stream status")
	ErrTextTooLong    = errors.New("UMP stream text too long")
	ErrInvalidField   = errors.New("UMP field out of range")
	ErrUnexpectedPart = errors.New("unexpected multi-packet part")
)

// MessageTypeStream is the UMP message type of stream messages.
const MessageTypeStream = 0xF

// PacketWords returns the packet length in 32-bit words for a message type.
func PacketWords(mt uint8) int {
	switch mt & 0x0F {
	case 0x0, 0x1, 0x2, 0x6, 0x7:
		return 1
	case 0x3, 0x4, 0x8, 0x9, 0xA:
		return 2
	case 0xB, 0xC:
		return 3
	default:
		return 4
	}
}

// Status is the 10-bit status field of a stream message.
type Status uint16

const (
	StatusEndpointDiscovery      Status = 0x00
	StatusEndpointInfo           Status = 0x01
	StatusDeviceIdentity         Status = 0x02
	StatusEndpointName           Status = 0x03
	StatusProductInstanceID      Status = 0x04
	StatusStreamConfigRequest    Status = 0x05
	StatusStreamConfigNotify     Status = 0x06
	StatusFunctionBlockDiscovery Status = 0x10
	StatusFunctionBlockInfo      Status = 0x11
	StatusFunctionBlockName      Status = 0x12
)

var statusNames = map[Status]string{
	StatusEndpointDiscovery:      "EndpointDiscovery",
	StatusEndpointInfo:           "EndpointInfo",
	StatusDeviceIdentity:         "DeviceIdentity",
	StatusEndpointName:           "EndpointName",
	StatusProductInstanceID:      "ProductInstanceID",
	StatusStreamConfigRequest:    "StreamConfigRequest",
	StatusStreamConfigNotify:     "StreamConfigNotification",
	StatusFunctionBlockDiscovery: "FunctionBlockDiscovery",
	StatusFunctionBlockInfo:      "FunctionBlockInfo",
	StatusFunctionBlockName:      "FunctionBlockName",
}

// String returns the message name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%03X)", uint16(s))
}

// Format is the multi-packet position of a stream packet.
type Format uint8

const (
	FormatComplete Format = 0
	FormatStart    Format = 1
	FormatContinue Format = 2
	FormatEnd      Format = 3
)

// Packet is one 128-bit stream message.
type Packet [4]uint32

func newPacket(f Format, s Status, low uint16) Packet {
	return Packet{uint32(MessageTypeStream)<<28 | uint32(f&3)<<26 | uint32(s&0x3FF)<<16 | uint32(low)}
}

// Format returns the multi-packet position.
func (p Packet) Format() Format { return Format(p[0]>>26) & 3 }

// Status returns the stream status.
func (p Packet) Status() Status { return Status(p[0]>>16) & 0x3FF }

func (p Packet) bytes() [16]byte {
	var b [16]byte
	for i, w := range p {
		binary.BigEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func packetFromBytes(b [16]byte) Packet {
	var p Packet
	for i := range p {
		p[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return p
}

// Words flattens packets into a word slice.
func Words(packets []Packet) []uint32 {
	out := make([]uint32, 0, 4*len(packets))
	for _, p := range packets {
		out = append(out, p[:]...)
	}
	return out
}

// Split walks a word sequence and returns its stream packets. Packets of
// other message types are skipped.
func Split(words []uint32) ([]Packet, error) {
	var out []Packet
	for i := 0; i < len(words); {
		mt := uint8(words[i] >> 28)
		n := PacketWords(mt)
		if i+n > len(words) {
			return out, fmt.Errorf("%w: message type 0x%X needs %d words, %d left", ErrTruncated, mt, n, len(words)-i)
		}
		if mt == MessageTypeStream {
			var p Packet
			copy(p[:], words[i:i+n])
			out = append(out, p)
		}
		i += n
	}
	return out, nil
}

// text layout

const (
	// textPerPacket is the payload of an Endpoint Name or Product Instance
	// Id packet.
	textPerPacket = 14
	// blockTextPerPacket is the payload of a Function Block Name packet.
	blockTextPerPacket = 13

	// MaxEndpointName is the longest endpoint name or product instance id.
	MaxEndpointName = 7 * textPerPacket
	// MaxBlockName is the longest function block name.
	MaxBlockName = 7 * blockTextPerPacket
)

// packText splits text over as many packets as needed. A non-negative
// block is stored in byte 2 of each packet.
func packText(s Status, block int, text string) []Packet {
	per, start := textPerPacket, 2
	if block >= 0 {
		per, start = blockTextPerPacket, 3
	}
	data := []byte(text)
	n := max(1, (len(data)+per-1)/per)

	out := make([]Packet, 0, n)
	for i := range n {
		f := FormatComplete
		switch {
		case n == 1:
		case i == 0:
			f = FormatStart
		case i == n-1:
			f = FormatEnd
		default:
			f = FormatContinue
		}
		b := newPacket(f, s, 0).bytes()
		if block >= 0 {
			b[2] = byte(block)
		}
		copy(b[start:], data[i*per:min(len(data), (i+1)*per)])
		out = append(out, packetFromBytes(b))
	}
	return out
}

// unpackText returns the text bytes of one packet without zero padding.
func unpackText(p Packet, block bool) []byte {
	b := p.bytes()
	start := 2
	if block {
		start = 3
	}
	text := b[start:]
	end := len(text)
	for end > 0 && text[end-1] == 0 {
		end--
	}
	return append([]byte(nil), text[:end]...)
}
