package wire

import (
	"errors"
	"fmt"

	"github.com/midici-protocol/midici-go/pkg/muid"
)

// Codec errors.
var (
	ErrMalformedMessage = errors.New("malformed MIDI-CI message")
	ErrNotMIDICI        = errors.New("not a MIDI-CI message")
	ErrUnknownSubID     = errors.New("unknown MIDI-CI sub-ID")
	ErrInvalidField     = errors.New("invalid message field")
)

// headerSetter is implemented by every message through the embedded Header.
type headerSetter interface {
	setHeader(h Header)
}

func (h *Header) setHeader(v Header) {
	*h = v
}

// NewHeader returns a header addressed to the whole function block with the
// current message version.
func NewHeader(sub SubID, src, dst muid.MUID) Header {
	return Header{
		DeviceID:    DeviceIDFunctionBlock,
		SubID:       sub,
		Version:     Version,
		Source:      src,
		Destination: dst,
	}
}

// newMessage returns an empty message for the sub-ID.
func newMessage(sub SubID) (Message, error) {
	switch sub {
	case SubIDDiscovery:
		return &Discovery{}, nil
	case SubIDDiscoveryReply:
		return &DiscoveryReply{}, nil
	case SubIDInvalidateMUID:
		return &InvalidateMUID{}, nil
	case SubIDNAK:
		return &NAK{}, nil
	case SubIDProtocolNegotiation, SubIDProtocolNegotiationReply:
		return &ProtocolNegotiation{}, nil
	case SubIDSetNewProtocol:
		return &SetNewProtocol{}, nil
	case SubIDTestNewProtocolIR, SubIDTestNewProtocolRI:
		return &TestNewProtocol{}, nil
	case SubIDConfirmNewProtocol:
		return &ConfirmNewProtocol{}, nil
	case SubIDProfileInquiry:
		return &ProfileInquiry{}, nil
	case SubIDProfileInquiryReply:
		return &ProfileInquiryReply{}, nil
	case SubIDSetProfileOn, SubIDSetProfileOff, SubIDProfileEnabledReport, SubIDProfileDisabledReport:
		return &ProfileMessage{}, nil
	case SubIDProfileDetailsInquiry:
		return &ProfileDetailsInquiry{}, nil
	case SubIDProfileDetailsReply:
		return &ProfileDetailsReply{}, nil
	case SubIDPropertyCapabilities, SubIDPropertyCapabilitiesReply:
		return &PropertyCapabilities{}, nil
	}
	if sub.IsProperty() {
		return &PropertyChunk{}, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownSubID, uint8(sub))
}

// Encode returns the SysEx payload (without F0/F7) for msg.
func Encode(msg Message) ([]byte, error) {
	h := msg.MessageHeader()
	if !h.Source.IsValid() || !h.Destination.IsValid() {
		return nil, fmt.Errorf("%w: MUID out of range", ErrInvalidField)
	}
	if h.Version == 0 {
		h.Version = Version
	}

	b := make([]byte, 0, 64)
	b = append(b, UniversalNonRealtime, h.DeviceID&0x7F, SubIDCI, byte(h.SubID), h.Version&0x7F)
	b = h.Source.AppendTo(b)
	b = h.Destination.AppendTo(b)

	b, err := msg.appendBody(b)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", h.SubID, err)
	}
	for i, c := range b {
		if c&0x80 != 0 {
			return nil, fmt.Errorf("encode %s: %w: byte 0x%02X at offset %d", h.SubID, ErrInvalidField, c, i)
		}
	}
	return b, nil
}

// Decode parses a SysEx payload (without F0/F7) into a message.
func Decode(payload []byte) (Message, error) {
	if len(payload) < 4 || payload[0] != UniversalNonRealtime || payload[2] != SubIDCI {
		return nil, ErrNotMIDICI
	}
	h, err := DecodeHeader(payload)
	if err != nil {
		return nil, err
	}
	for i, c := range payload {
		if c&0x80 != 0 {
			return nil, fmt.Errorf("%w: byte 0x%02X at offset %d", ErrMalformedMessage, c, i)
		}
	}

	msg, err := newMessage(h.SubID)
	if err != nil {
		return nil, err
	}
	msg.(headerSetter).setHeader(h)
	if err := msg.parseBody(payload[HeaderSize:]); err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeHeader parses only the common header. It lets callers route or
// NAK messages whose body they cannot parse.
func DecodeHeader(payload []byte) (Header, error) {
	if len(payload) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedMessage, len(payload), HeaderSize)
	}
	src, err := muid.FromBytes(payload[5:9])
	if err != nil {
		return Header{}, fmt.Errorf("%w: source: %v", ErrMalformedMessage, err)
	}
	dst, err := muid.FromBytes(payload[9:13])
	if err != nil {
		return Header{}, fmt.Errorf("%w: destination: %v", ErrMalformedMessage, err)
	}
	return Header{
		DeviceID:    payload[1],
		SubID:       SubID(payload[3]),
		Version:     payload[4],
		Source:      src,
		Destination: dst,
	}, nil
}
