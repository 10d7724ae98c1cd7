package wire

import (
	"fmt"

	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/protocol"
)

// TestDataSize is the length of the protocol test pattern.
const TestDataSize = 48

// Header holds the fields common to every MIDI-CI message.
type Header struct {
	DeviceID    byte
	SubID       SubID
	Version     byte
	Source      muid.MUID
	Destination muid.MUID
}

// MessageHeader returns the common header.
func (h Header) MessageHeader() Header {
	return h
}

// Message is any decoded MIDI-CI message.
type Message interface {
	MessageHeader() Header
	appendBody(b []byte) ([]byte, error)
	parseBody(body []byte) error
}

// Identity is the device identity carried in Discovery messages.
type Identity struct {
	// Manufacturer is the SysEx ID (one-byte IDs in the low septet,
	// three-byte IDs as 0x00 + two septets), 3 septets on the wire.
	Manufacturer uint32
	Family       uint16
	Model        uint16
	Version      uint32
}

// Discovery announces a device and asks peers to reply.
type Discovery struct {
	Header
	Identity     Identity
	Category     Category
	MaxSysExSize uint32
	OutputPathID byte
}

// DiscoveryReply answers a Discovery.
type DiscoveryReply struct {
	Header
	Identity      Identity
	Category      Category
	MaxSysExSize  uint32
	OutputPathID  byte
	FunctionBlock byte
}

// InvalidateMUID tells peers to forget a MUID.
type InvalidateMUID struct {
	Header
	Target muid.MUID
}

// NAK rejects a message.
type NAK struct {
	Header
	OriginalSubID SubID
	StatusCode    byte
	StatusData    byte
	Details       [5]byte
	Text          string
}

// ProtocolNegotiation carries a list of protocols: the initiator's
// preference list (SubIDProtocolNegotiation) or the responder's accepted
// entries (SubIDProtocolNegotiationReply).
type ProtocolNegotiation struct {
	Header
	AuthorityLevel byte
	Protocols      []protocol.TypeInfo
}

// SetNewProtocol switches the connection to Protocol.
type SetNewProtocol struct {
	Header
	AuthorityLevel byte
	Protocol       protocol.TypeInfo
}

// TestNewProtocol carries the fixed test pattern in either direction.
type TestNewProtocol struct {
	Header
	AuthorityLevel byte
	TestData       [TestDataSize]byte
}

// ConfirmNewProtocol ends a successful negotiation.
type ConfirmNewProtocol struct {
	Header
	AuthorityLevel byte
}

// ProfileInquiry asks for the profiles on the addressed destination.
type ProfileInquiry struct {
	Header
}

// ProfileInquiryReply lists enabled and disabled profiles.
type ProfileInquiryReply struct {
	Header
	Enabled  []profile.ID
	Disabled []profile.ID
}

// ProfileMessage covers Set Profile On/Off and Enabled/Disabled Reports.
type ProfileMessage struct {
	Header
	Profile  profile.ID
	Channels uint16
}

// ProfileDetailsInquiry asks for profile-specific details.
type ProfileDetailsInquiry struct {
	Header
	Profile profile.ID
	Target  byte
}

// ProfileDetailsReply carries profile-specific details.
type ProfileDetailsReply struct {
	Header
	Profile profile.ID
	Target  byte
	Data    []byte
}

// PropertyCapabilities negotiates property exchange parameters.
type PropertyCapabilities struct {
	Header
	MaxSimultaneousRequests byte
	MajorVersion            byte
	MinorVersion            byte
}

// PropertyChunk is one chunk of a property exchange message. The header
// data (JSON) is normally present in the first chunk only. Chunks are
// numbered from 1; NumChunks 0 means the total is unknown.
type PropertyChunk struct {
	Header
	RequestID  byte
	HeaderData []byte
	NumChunks  uint16
	ChunkIndex uint16
	Data       []byte
}

// IsLast reports whether this chunk completes the message.
func (c *PropertyChunk) IsLast() bool {
	return c.NumChunks == c.ChunkIndex
}

// identity encoding

func appendIdentity(b []byte, id Identity) ([]byte, error) {
	if id.Manufacturer >= 1<<21 || id.Family >= 1<<14 || id.Model >= 1<<14 || id.Version >= 1<<28 {
		return nil, fmt.Errorf("%w: identity out of 7-bit range", ErrInvalidField)
	}
	b = appendSeptets(b, id.Manufacturer, 3)
	b = appendSeptets(b, uint32(id.Family), 2)
	b = appendSeptets(b, uint32(id.Model), 2)
	b = appendSeptets(b, id.Version, 4)
	return b, nil
}

const identitySize = 11

func parseIdentity(b []byte) Identity {
	return Identity{
		Manufacturer: septets(b[0:3]),
		Family:       uint16(septets(b[3:5])),
		Model:        uint16(septets(b[5:7])),
		Version:      septets(b[7:11]),
	}
}

// Discovery

func (m *Discovery) appendBody(b []byte) ([]byte, error) {
	b, err := appendIdentity(b, m.Identity)
	if err != nil {
		return nil, err
	}
	b = append(b, byte(m.Category)&0x7F)
	b = appendSeptets(b, m.MaxSysExSize, 4)
	return append(b, m.OutputPathID&0x7F), nil
}

func (m *Discovery) parseBody(body []byte) error {
	if len(body) < identitySize+5 {
		return shortBody(m.SubID, len(body))
	}
	m.Identity = parseIdentity(body)
	m.Category = Category(body[11])
	m.MaxSysExSize = septets(body[12:16])
	if len(body) > 16 {
		m.OutputPathID = body[16]
	}
	return nil
}

func (m *DiscoveryReply) appendBody(b []byte) ([]byte, error) {
	b, err := appendIdentity(b, m.Identity)
	if err != nil {
		return nil, err
	}
	b = append(b, byte(m.Category)&0x7F)
	b = appendSeptets(b, m.MaxSysExSize, 4)
	return append(b, m.OutputPathID&0x7F, m.FunctionBlock&0x7F), nil
}

func (m *DiscoveryReply) parseBody(body []byte) error {
	if len(body) < identitySize+5 {
		return shortBody(m.SubID, len(body))
	}
	m.Identity = parseIdentity(body)
	m.Category = Category(body[11])
	m.MaxSysExSize = septets(body[12:16])
	if len(body) > 17 {
		m.OutputPathID = body[16]
		m.FunctionBlock = body[17]
	}
	return nil
}

// InvalidateMUID

func (m *InvalidateMUID) appendBody(b []byte) ([]byte, error) {
	return m.Target.AppendTo(b), nil
}

func (m *InvalidateMUID) parseBody(body []byte) error {
	target, err := muid.FromBytes(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	m.Target = target
	return nil
}

// NAK

func (m *NAK) appendBody(b []byte) ([]byte, error) {
	if len(m.Text) >= 1<<14 {
		return nil, fmt.Errorf("%w: NAK text too long", ErrInvalidField)
	}
	b = append(b, byte(m.OriginalSubID), m.StatusCode, m.StatusData)
	b = append(b, m.Details[:]...)
	b = appendSeptets(b, uint32(len(m.Text)), 2)
	return append(b, m.Text...), nil
}

func (m *NAK) parseBody(body []byte) error {
	// Version 1 NAKs have no body.
	if len(body) == 0 {
		return nil
	}
	if len(body) < 10 {
		return shortBody(m.SubID, len(body))
	}
	m.OriginalSubID = SubID(body[0])
	m.StatusCode = body[1]
	m.StatusData = body[2]
	copy(m.Details[:], body[3:8])
	n := int(septets(body[8:10]))
	if len(body) < 10+n {
		return shortBody(m.SubID, len(body))
	}
	m.Text = string(body[10 : 10+n])
	return nil
}

// protocol negotiation

func (m *ProtocolNegotiation) appendBody(b []byte) ([]byte, error) {
	if len(m.Protocols) > 0x7F {
		return nil, fmt.Errorf("%w: too many protocols", ErrInvalidField)
	}
	b = append(b, m.AuthorityLevel&0x7F, byte(len(m.Protocols)))
	for _, p := range m.Protocols {
		pb := p.Bytes()
		b = append(b, pb[:]...)
	}
	return b, nil
}

func (m *ProtocolNegotiation) parseBody(body []byte) error {
	if len(body) < 2 {
		return shortBody(m.SubID, len(body))
	}
	m.AuthorityLevel = body[0]
	n := int(body[1])
	if len(body) < 2+n*protocol.Size {
		return shortBody(m.SubID, len(body))
	}
	m.Protocols = make([]protocol.TypeInfo, 0, n)
	for i := 0; i < n; i++ {
		p, _ := protocol.Parse(body[2+i*protocol.Size:])
		m.Protocols = append(m.Protocols, p)
	}
	return nil
}

func (m *SetNewProtocol) appendBody(b []byte) ([]byte, error) {
	pb := m.Protocol.Bytes()
	b = append(b, m.AuthorityLevel&0x7F)
	return append(b, pb[:]...), nil
}

func (m *SetNewProtocol) parseBody(body []byte) error {
	if len(body) < 1+protocol.Size {
		return shortBody(m.SubID, len(body))
	}
	m.AuthorityLevel = body[0]
	m.Protocol, _ = protocol.Parse(body[1:])
	return nil
}

// NewTestData returns the standard test pattern 0, 1, ..., 47.
func NewTestData() [TestDataSize]byte {
	var d [TestDataSize]byte
	for i := range d {
		d[i] = byte(i)
	}
	return d
}

func (m *TestNewProtocol) appendBody(b []byte) ([]byte, error) {
	b = append(b, m.AuthorityLevel&0x7F)
	return append(b, m.TestData[:]...), nil
}

func (m *TestNewProtocol) parseBody(body []byte) error {
	if len(body) < 1+TestDataSize {
		return shortBody(m.SubID, len(body))
	}
	m.AuthorityLevel = body[0]
	copy(m.TestData[:], body[1:])
	return nil
}

func (m *ConfirmNewProtocol) appendBody(b []byte) ([]byte, error) {
	return append(b, m.AuthorityLevel&0x7F), nil
}

func (m *ConfirmNewProtocol) parseBody(body []byte) error {
	if len(body) < 1 {
		return shortBody(m.SubID, len(body))
	}
	m.AuthorityLevel = body[0]
	return nil
}

// profiles

func (m *ProfileInquiry) appendBody(b []byte) ([]byte, error) { return b, nil }

func (m *ProfileInquiry) parseBody([]byte) error { return nil }

func appendProfileList(b []byte, ids []profile.ID) ([]byte, error) {
	if len(ids) >= 1<<14 {
		return nil, fmt.Errorf("%w: too many profiles", ErrInvalidField)
	}
	b = appendSeptets(b, uint32(len(ids)), 2)
	for _, id := range ids {
		b = append(b, id[:]...)
	}
	return b, nil
}

func parseProfileList(body []byte) ([]profile.ID, []byte, bool) {
	if len(body) < 2 {
		return nil, nil, false
	}
	n := int(septets(body[0:2]))
	body = body[2:]
	if len(body) < n*profile.IDSize {
		return nil, nil, false
	}
	ids := make([]profile.ID, 0, n)
	for i := 0; i < n; i++ {
		id, _ := profile.ParseID(body[i*profile.IDSize:])
		ids = append(ids, id)
	}
	return ids, body[n*profile.IDSize:], true
}

func (m *ProfileInquiryReply) appendBody(b []byte) ([]byte, error) {
	b, err := appendProfileList(b, m.Enabled)
	if err != nil {
		return nil, err
	}
	return appendProfileList(b, m.Disabled)
}

func (m *ProfileInquiryReply) parseBody(body []byte) error {
	enabled, rest, ok := parseProfileList(body)
	if !ok {
		return shortBody(m.SubID, len(body))
	}
	disabled, _, ok := parseProfileList(rest)
	if !ok {
		return shortBody(m.SubID, len(body))
	}
	m.Enabled, m.Disabled = enabled, disabled
	return nil
}

func (m *ProfileMessage) appendBody(b []byte) ([]byte, error) {
	b = append(b, m.Profile[:]...)
	return appendSeptets(b, uint32(m.Channels), 2), nil
}

func (m *ProfileMessage) parseBody(body []byte) error {
	if len(body) < profile.IDSize {
		return shortBody(m.SubID, len(body))
	}
	m.Profile, _ = profile.ParseID(body)
	if len(body) >= profile.IDSize+2 {
		m.Channels = uint16(septets(body[profile.IDSize : profile.IDSize+2]))
	}
	return nil
}

func (m *ProfileDetailsInquiry) appendBody(b []byte) ([]byte, error) {
	b = append(b, m.Profile[:]...)
	return append(b, m.Target&0x7F), nil
}

func (m *ProfileDetailsInquiry) parseBody(body []byte) error {
	if len(body) < profile.IDSize+1 {
		return shortBody(m.SubID, len(body))
	}
	m.Profile, _ = profile.ParseID(body)
	m.Target = body[profile.IDSize]
	return nil
}

func (m *ProfileDetailsReply) appendBody(b []byte) ([]byte, error) {
	if len(m.Data) >= 1<<14 {
		return nil, fmt.Errorf("%w: details too long", ErrInvalidField)
	}
	b = append(b, m.Profile[:]...)
	b = append(b, m.Target&0x7F)
	b = appendSeptets(b, uint32(len(m.Data)), 2)
	return append(b, m.Data...), nil
}

func (m *ProfileDetailsReply) parseBody(body []byte) error {
	const fixed = profile.IDSize + 3
	if len(body) < fixed {
		return shortBody(m.SubID, len(body))
	}
	m.Profile, _ = profile.ParseID(body)
	m.Target = body[profile.IDSize]
	n := int(septets(body[profile.IDSize+1 : fixed]))
	if len(body) < fixed+n {
		return shortBody(m.SubID, len(body))
	}
	m.Data = clone(body[fixed : fixed+n])
	return nil
}

// property exchange

func (m *PropertyCapabilities) appendBody(b []byte) ([]byte, error) {
	return append(b, m.MaxSimultaneousRequests&0x7F, m.MajorVersion&0x7F, m.MinorVersion&0x7F), nil
}

func (m *PropertyCapabilities) parseBody(body []byte) error {
	if len(body) < 1 {
		return shortBody(m.SubID, len(body))
	}
	m.MaxSimultaneousRequests = body[0]
	if len(body) >= 3 {
		m.MajorVersion = body[1]
		m.MinorVersion = body[2]
	}
	return nil
}

func (m *PropertyChunk) appendBody(b []byte) ([]byte, error) {
	if len(m.HeaderData) >= 1<<14 || len(m.Data) >= 1<<14 {
		return nil, fmt.Errorf("%w: property chunk too long", ErrInvalidField)
	}
	if m.RequestID > 0x7F {
		return nil, fmt.Errorf("%w: request id %d", ErrInvalidField, m.RequestID)
	}
	b = append(b, m.RequestID)
	b = appendSeptets(b, uint32(len(m.HeaderData)), 2)
	b = append(b, m.HeaderData...)
	b = appendSeptets(b, uint32(m.NumChunks), 2)
	b = appendSeptets(b, uint32(m.ChunkIndex), 2)
	b = appendSeptets(b, uint32(len(m.Data)), 2)
	return append(b, m.Data...), nil
}

func (m *PropertyChunk) parseBody(body []byte) error {
	if len(body) < 3 {
		return shortBody(m.SubID, len(body))
	}
	m.RequestID = body[0]
	hl := int(septets(body[1:3]))
	pos := 3
	if len(body) < pos+hl+6 {
		return shortBody(m.SubID, len(body))
	}
	m.HeaderData = clone(body[pos : pos+hl])
	pos += hl
	m.NumChunks = uint16(septets(body[pos : pos+2]))
	m.ChunkIndex = uint16(septets(body[pos+2 : pos+4]))
	dl := int(septets(body[pos+4 : pos+6]))
	pos += 6
	if len(body) < pos+dl {
		return shortBody(m.SubID, len(body))
	}
	m.Data = clone(body[pos : pos+dl])
	return nil
}

// septet helpers

func appendSeptets(b []byte, v uint32, n int) []byte {
	for i := 0; i < n; i++ {
		b = append(b, byte(v>>(7*i))&0x7F)
	}
	return b
}

func septets(b []byte) uint32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<7 | uint32(b[i]&0x7F)
	}
	return v
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func shortBody(sub SubID, n int) error {
	return fmt.Errorf("%w: %s body too short (%d bytes)", ErrMalformedMessage, sub, n)
}
