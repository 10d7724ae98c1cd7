package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/midici-protocol/midici-go/pkg/muid"
)

// Service type constants for mDNS.
const (
	// ServiceType is the service type for MIDI-CI network ports.
	ServiceType = "_midici._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default TCP port.
	DefaultPort = 5673
)

// TXT record key constants.
const (
	TXTKeyTransport         = "tp"
	TXTKeyName              = "name"
	TXTKeyProductInstanceID = "pid"
	TXTKeyManufacturer      = "mf"
	TXTKeyModel             = "md"
	TXTKeyMUID              = "muid"
	TXTKeyVersion           = "ver"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
)

// Transport is the stream format a port carries.
type Transport string

const (
	TransportSysEx Transport = "sysex"
	TransportUMP   Transport = "ump"
)

// Valid reports whether t is a known transport.
func (t Transport) Valid() bool {
	return t == TransportSysEx || t == TransportUMP
}

// PortInfo is what a port advertises.
type PortInfo struct {
	// InstanceName is the mDNS instance label.
	InstanceName string

	// Port is the TCP port (default: DefaultPort).
	Port uint16

	Transport         Transport
	Name              string
	ProductInstanceID string
	Manufacturer      uint32
	Model             uint16

	// MUID is the responder MUID. Zero omits it.
	MUID muid.MUID

	// CIVersion is the MIDI-CI message format version. Zero omits it.
	CIVersion byte
}

// Service is a port found by browsing.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	Info         PortInfo
}

// Address returns a dialable host:port using the first known address,
// falling back to the host name.
func (s *Service) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
