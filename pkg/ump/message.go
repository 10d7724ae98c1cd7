package ump

import (
	"fmt"
)

// Message is a decoded UMP stream message.
type Message interface {
	Status() Status
	packets() ([]Packet, error)
}

// Endpoint Discovery filter bits.
const (
	FilterEndpointInfo      byte = 1 << 0
	FilterDeviceIdentity    byte = 1 << 1
	FilterEndpointName      byte = 1 << 2
	FilterProductInstanceID byte = 1 << 3
	FilterStreamConfig      byte = 1 << 4

	FilterAll = FilterEndpointInfo | FilterDeviceIdentity | FilterEndpointName |
		FilterProductInstanceID | FilterStreamConfig
)

// Function Block Discovery filter bits.
const (
	FilterBlockInfo byte = 1 << 0
	FilterBlockName byte = 1 << 1
)

// AllBlocks requests every function block in a Function Block Discovery.
const AllBlocks byte = 0xFF

// MaxFunctionBlocks is the number of function blocks an endpoint may own.
const MaxFunctionBlocks = 32

// Stream protocol codes.
const (
	ProtocolMIDI1 byte = 0x01
	ProtocolMIDI2 byte = 0x02
)

// EndpointDiscovery asks a peer to describe itself.
type EndpointDiscovery struct {
	VersionMajor byte
	VersionMinor byte
	Filter       byte
}

// EndpointInfo announces the UMP version, block count and protocols.
type EndpointInfo struct {
	VersionMajor byte
	VersionMinor byte
	StaticBlocks bool
	NumBlocks    byte
	MIDI2        bool
	MIDI1        bool
	ReceiveJR    bool
	TransmitJR   bool
}

// DeviceIdentityMessage carries the SysEx device identity.
type DeviceIdentityMessage struct {
	Identity DeviceIdentity
}

// EndpointName carries the endpoint display name.
type EndpointName struct {
	Name string
}

// ProductInstanceID carries the unique product instance id.
type ProductInstanceID struct {
	ID string
}

// StreamConfig is a Stream Configuration Request or Notification.
type StreamConfig struct {
	Notify     bool
	Protocol   byte
	ReceiveJR  bool
	TransmitJR bool
}

// FunctionBlockDiscovery asks for one block or AllBlocks.
type FunctionBlockDiscovery struct {
	Block  byte
	Filter byte
}

// FunctionBlockInfo describes one function block. The name travels
// separately in FunctionBlockName.
type FunctionBlockInfo struct {
	Block FunctionBlock
}

// FunctionBlockName carries the name of a function block.
type FunctionBlockName struct {
	Number byte
	Name   string
}

func (EndpointDiscovery) Status() Status      { return StatusEndpointDiscovery }
func (EndpointInfo) Status() Status           { return StatusEndpointInfo }
func (DeviceIdentityMessage) Status() Status  { return StatusDeviceIdentity }
func (EndpointName) Status() Status           { return StatusEndpointName }
func (ProductInstanceID) Status() Status      { return StatusProductInstanceID }
func (FunctionBlockDiscovery) Status() Status { return StatusFunctionBlockDiscovery }
func (FunctionBlockInfo) Status() Status      { return StatusFunctionBlockInfo }
func (FunctionBlockName) Status() Status      { return StatusFunctionBlockName }

// Status returns the request or notification status.
func (m StreamConfig) Status() Status {
	if m.Notify {
		return StatusStreamConfigNotify
	}
	return StatusStreamConfigRequest
}

// Encode returns the packets of msg.
func Encode(msg Message) ([]Packet, error) {
	return msg.packets()
}

func (m EndpointDiscovery) packets() ([]Packet, error) {
	p := newPacket(FormatComplete, StatusEndpointDiscovery, uint16(m.VersionMajor)<<8|uint16(m.VersionMinor))
	p[1] = uint32(m.Filter)
	return []Packet{p}, nil
}

func (m EndpointInfo) packets() ([]Packet, error) {
	if m.NumBlocks > MaxFunctionBlocks {
		return nil, fmt.Errorf("%w: %d function blocks", ErrInvalidField, m.NumBlocks)
	}
	p := newPacket(FormatComplete, StatusEndpointInfo, uint16(m.VersionMajor)<<8|uint16(m.VersionMinor))
	p[1] = bit(m.StaticBlocks, 31) | uint32(m.NumBlocks&0x7F)<<24 |
		bit(m.MIDI2, 9) | bit(m.MIDI1, 8) | bit(m.ReceiveJR, 1) | bit(m.TransmitJR, 0)
	return []Packet{p}, nil
}

func (m DeviceIdentityMessage) packets() ([]Packet, error) {
	id := m.Identity
	if err := id.Validate(); err != nil {
		return nil, err
	}
	b := newPacket(FormatComplete, StatusDeviceIdentity, 0).bytes()
	putSeptets(b[5:8], id.Manufacturer)
	putSeptets(b[8:10], uint32(id.Family))
	putSeptets(b[10:12], uint32(id.Model))
	putSeptets(b[12:16], id.Version)
	return []Packet{packetFromBytes(b)}, nil
}

func (m EndpointName) packets() ([]Packet, error) {
	if len(m.Name) > MaxEndpointName {
		return nil, fmt.Errorf("%w: endpoint name is %d bytes", ErrTextTooLong, len(m.Name))
	}
	return packText(StatusEndpointName, -1, m.Name), nil
}

func (m ProductInstanceID) packets() ([]Packet, error) {
	if len(m.ID) > MaxEndpointName {
		return nil, fmt.Errorf("%w: product instance id is %d bytes", ErrTextTooLong, len(m.ID))
	}
	return packText(StatusProductInstanceID, -1, m.ID), nil
}

func (m StreamConfig) packets() ([]Packet, error) {
	low := uint16(m.Protocol)<<8 | uint16(bit(m.ReceiveJR, 1)|bit(m.TransmitJR, 0))
	return []Packet{newPacket(FormatComplete, m.Status(), low)}, nil
}

func (m FunctionBlockDiscovery) packets() ([]Packet, error) {
	return []Packet{newPacket(FormatComplete, StatusFunctionBlockDiscovery, uint16(m.Block)<<8|uint16(m.Filter))}, nil
}

func (m FunctionBlockInfo) packets() ([]Packet, error) {
	fb := m.Block
	if fb.Number >= MaxFunctionBlocks {
		return nil, fmt.Errorf("%w: block number %d", ErrInvalidField, fb.Number)
	}
	if err := fb.Validate(); err != nil {
		return nil, err
	}
	low := uint16(bit(fb.Active, 15)) | uint16(fb.Number&0x7F)<<8 |
		uint16(fb.UIHint&3)<<4 | uint16(fb.MIDI1&3)<<2 | uint16(fb.Direction&3)
	p := newPacket(FormatComplete, StatusFunctionBlockInfo, low)
	p[1] = uint32(fb.GroupIndex)<<24 | uint32(fb.GroupCount)<<16 | uint32(fb.CIVersion)<<8 | uint32(fb.MaxSysEx8Streams)
	return []Packet{p}, nil
}

func (m FunctionBlockName) packets() ([]Packet, error) {
	if len(m.Name) > MaxBlockName {
		return nil, fmt.Errorf("%w: block name is %d bytes", ErrTextTooLong, len(m.Name))
	}
	if m.Number >= MaxFunctionBlocks {
		return nil, fmt.Errorf("%w: block number %d", ErrInvalidField, m.Number)
	}
	return packText(StatusFunctionBlockName, int(m.Number), m.Name), nil
}

func bit(v bool, n uint) uint32 {
	if v {
		return 1 << n
	}
	return 0
}

// putSeptets writes v as 7-bit values, least significant first.
func putSeptets(dst []byte, v uint32) {
	for i := range dst {
		dst[i] = byte(v>>(7*i)) & 0x7F
	}
}

func septets(src []byte) uint32 {
	var v uint32
	for i := len(src) - 1; i >= 0; i-- {
		v = v<<7 | uint32(src[i]&0x7F)
	}
	return v
}

// Decoder turns stream packets into messages, joining multi-packet text.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	text map[textKey][]byte
}

type textKey struct {
	status Status
	block  byte
}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	return &Decoder{text: make(map[textKey][]byte)}
}

// Decode consumes one packet. It returns nil without error while a
// multi-packet message is incomplete.
func (d *Decoder) Decode(p Packet) (Message, error) {
	if uint8(p[0]>>28) != MessageTypeStream {
		return nil, fmt.Errorf("%w: message type 0x%X", ErrMalformed, p[0]>>28)
	}
	low := uint16(p[0])

	switch s := p.Status(); s {
	case StatusEndpointDiscovery:
		return EndpointDiscovery{
			VersionMajor: byte(low >> 8),
			VersionMinor: byte(low),
			Filter:       byte(p[1]),
		}, nil

	case StatusEndpointInfo:
		return EndpointInfo{
			VersionMajor: byte(low >> 8),
			VersionMinor: byte(low),
			StaticBlocks: p[1]&(1<<31) != 0,
			NumBlocks:    byte(p[1]>>24) & 0x7F,
			MIDI2:        p[1]&(1<<9) != 0,
			MIDI1:        p[1]&(1<<8) != 0,
			ReceiveJR:    p[1]&(1<<1) != 0,
			TransmitJR:   p[1]&1 != 0,
		}, nil

	case StatusDeviceIdentity:
		b := p.bytes()
		return DeviceIdentityMessage{Identity: DeviceIdentity{
			Manufacturer: septets(b[5:8]),
			Family:       uint16(septets(b[8:10])),
			Model:        uint16(septets(b[10:12])),
			Version:      septets(b[12:16]),
		}}, nil

	case StatusEndpointName, StatusProductInstanceID:
		text, err := d.join(p, false)
		if err != nil || text == nil {
			return nil, err
		}
		if s == StatusEndpointName {
			return EndpointName{Name: string(text)}, nil
		}
		return ProductInstanceID{ID: string(text)}, nil

	case StatusStreamConfigRequest, StatusStreamConfigNotify:
		return StreamConfig{
			Notify:     s == StatusStreamConfigNotify,
			Protocol:   byte(low >> 8),
			ReceiveJR:  low&(1<<1) != 0,
			TransmitJR: low&1 != 0,
		}, nil

	case StatusFunctionBlockDiscovery:
		return FunctionBlockDiscovery{Block: byte(low >> 8), Filter: byte(low)}, nil

	case StatusFunctionBlockInfo:
		fb := FunctionBlock{
			Number:           byte(low>>8) & 0x7F,
			Active:           low&(1<<15) != 0,
			UIHint:           UIHint(low>>4) & 3,
			MIDI1:            MIDI1Bandwidth(low>>2) & 3,
			Direction:        Direction(low) & 3,
			GroupIndex:       byte(p[1] >> 24),
			GroupCount:       byte(p[1] >> 16),
			CIVersion:        byte(p[1] >> 8),
			MaxSysEx8Streams: byte(p[1]),
		}
		if err := fb.Validate(); err != nil {
			return nil, err
		}
		return FunctionBlockInfo{Block: fb}, nil

	case StatusFunctionBlockName:
		number := byte(low >> 8)
		text, err := d.join(p, true)
		if err != nil || text == nil {
			return nil, err
		}
		return FunctionBlockName{Number: number, Name: string(text)}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%03X", ErrUnknownStatus, uint16(s))
	}
}

// join accumulates a text packet. It returns the text once complete and
// nil while more parts are expected.
func (d *Decoder) join(p Packet, block bool) ([]byte, error) {
	key := textKey{status: p.Status()}
	if block {
		key.block = byte(p[0] >> 8)
	}
	part := unpackText(p, block)

	switch p.Format() {
	case FormatComplete:
		delete(d.text, key)
		return nonNil(part), nil
	case FormatStart:
		d.text[key] = part
		return nil, nil
	}

	buf, ok := d.text[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s part without start", ErrUnexpectedPart, key.status)
	}
	buf = append(buf, part...)
	limit := MaxEndpointName
	if block {
		limit = MaxBlockName
	}
	if len(buf) > limit {
		delete(d.text, key)
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTextTooLong, key.status, limit)
	}
	if p.Format() == FormatContinue {
		d.text[key] = buf
		return nil, nil
	}
	delete(d.text, key)
	return nonNil(buf), nil
}

// Reset drops partial text messages.
func (d *Decoder) Reset() {
	clear(d.text)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
