package midici

import (
	"errors"
	"maps"
	"time"

	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/protocol"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

// MIDI-CI errors.
var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUnknownPeer         = errors.New("unknown peer MUID")
	ErrNotActive           = errors.New("connection not active")
	ErrUnsupportedProtocol = errors.New("no mutually supported protocol")
	ErrProtocolTest        = errors.New("protocol test data mismatch")
	ErrTooManyRequests     = errors.New("too many simultaneous property requests")
	ErrNoRequestID         = errors.New("no free property request ID")
	ErrTimeout             = errors.New("property transaction timed out")
	ErrAborted             = errors.New("property transaction aborted")
	ErrNotSubscribed       = errors.New("not subscribed to resource")
	ErrMessageTooLarge     = errors.New("message exceeds max SysEx size")
)

// Sender delivers one framed SysEx message (F0 ... F7) to the transport.
type Sender func(msg []byte) error

// InitiatorState is the discovery state of an Initiator.
type InitiatorState uint8

const (
	// InitiatorInitial - no discovery sent yet, or the MUID was invalidated.
	InitiatorInitial InitiatorState = iota

	// InitiatorDiscovering - a Discovery was broadcast; replies create
	// connections.
	InitiatorDiscovering
)

// String returns the state name.
func (s InitiatorState) String() string {
	switch s {
	case InitiatorInitial:
		return "INITIAL"
	case InitiatorDiscovering:
		return "DISCOVERING"
	default:
		return "UNKNOWN"
	}
}

// ConnectionState is the state of one discovered peer.
type ConnectionState uint8

const (
	// StateDiscovered - the peer answered Discovery.
	StateDiscovered ConnectionState = iota

	// StateNegotiating - protocol negotiation is in progress.
	StateNegotiating

	// StateActive - the protocol is settled; profile and property
	// requests are allowed.
	StateActive
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDiscovered:
		return "DISCOVERED"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// DeviceInfo identifies a device. The numeric fields travel in Discovery;
// the names travel in the DeviceInfo property resource.
type DeviceInfo struct {
	Manufacturer uint32
	Family       uint16
	Model        uint16
	Version      uint32

	ManufacturerName string
	FamilyName       string
	ModelName        string
	VersionName      string
	SerialNumber     string
}

// Identity returns the Discovery identity.
func (d DeviceInfo) Identity() wire.Identity {
	return wire.Identity{
		Manufacturer: d.Manufacturer,
		Family:       d.Family,
		Model:        d.Model,
		Version:      d.Version,
	}
}

// Body returns the DeviceInfo resource body.
func (d DeviceInfo) Body() property.DeviceInfoBody {
	return property.DeviceInfoBody{
		ManufacturerID: property.Septets(d.Manufacturer, 3),
		FamilyID:       property.Septets(uint32(d.Family), 2),
		ModelID:        property.Septets(uint32(d.Model), 2),
		VersionID:      property.Septets(d.Version, 4),
		Manufacturer:   d.ManufacturerName,
		Family:         d.FamilyName,
		Model:          d.ModelName,
		Version:        d.VersionName,
		SerialNumber:   d.SerialNumber,
	}
}

func deviceFromIdentity(id wire.Identity) DeviceInfo {
	return DeviceInfo{
		Manufacturer: id.Manufacturer,
		Family:       id.Family,
		Model:        id.Model,
		Version:      id.Version,
	}
}

// applyBody copies the names of a fetched DeviceInfo resource.
func (d *DeviceInfo) applyBody(b property.DeviceInfoBody) {
	d.ManufacturerName = b.Manufacturer
	d.FamilyName = b.Family
	d.ModelName = b.Model
	d.VersionName = b.Version
	d.SerialNumber = b.SerialNumber
}

// PropertyCapabilities is what a peer answered to a capabilities inquiry.
type PropertyCapabilities struct {
	MaxSimultaneousRequests byte
	MajorVersion            byte
	MinorVersion            byte
}

// Connection is a snapshot of an initiator's view of one responder.
type Connection struct {
	MUID         muid.MUID
	Device       DeviceInfo
	Category     wire.Category
	MaxSysExSize uint32
	State        ConnectionState

	// Protocol is the negotiated protocol. It is zero until the
	// connection becomes active.
	Protocol protocol.TypeInfo

	// OfferedProtocols is the responder's last negotiation reply.
	OfferedProtocols []protocol.TypeInfo

	Profiles       []profile.Entry
	ProfileDetails map[ProfileTarget][]byte

	// PropertyCapabilities is nil until the peer answered.
	PropertyCapabilities *PropertyCapabilities

	// PeerSupportsCompression is set once the peer used zlib+Mcoded7.
	PeerSupportsCompression bool

	// Properties holds the last fetched body per resource key.
	Properties map[string][]byte

	// Subscriptions maps subscribeId to resource key.
	Subscriptions map[string]string

	// PendingRequests is the number of property requests awaiting a reply.
	PendingRequests int

	LastActivity time.Time
}

// ProfileTarget addresses a profile on a channel or the whole port.
type ProfileTarget struct {
	ID     profile.ID
	Target byte
}

// ResourceKey joins a resource name and resId.
func ResourceKey(resource, resID string) string {
	if resID == "" {
		return resource
	}
	return resource + "#" + resID
}

// conn is the mutable per-peer state behind Connection.
type conn struct {
	muid         muid.MUID
	device       DeviceInfo
	category     wire.Category
	maxSysExSize uint32
	state        ConnectionState

	protocol protocol.TypeInfo
	pending  protocol.TypeInfo
	offered  []protocol.TypeInfo

	profiles       *profile.Set
	profileDetails map[ProfileTarget][]byte

	capabilities *PropertyCapabilities
	compression  bool

	properties    map[string][]byte
	subscriptions map[string]string

	lastActivity time.Time
}

func newConn(m muid.MUID, reply *wire.DiscoveryReply, now time.Time) *conn {
	return &conn{
		muid:           m,
		device:         deviceFromIdentity(reply.Identity),
		category:       reply.Category,
		maxSysExSize:   reply.MaxSysExSize,
		state:          StateDiscovered,
		profiles:       profile.NewSet(),
		profileDetails: make(map[ProfileTarget][]byte),
		properties:     make(map[string][]byte),
		subscriptions:  make(map[string]string),
		lastActivity:   now,
	}
}

func (c *conn) snapshot(pending int) Connection {
	out := Connection{
		MUID:                    c.muid,
		Device:                  c.device,
		Category:                c.category,
		MaxSysExSize:            c.maxSysExSize,
		State:                   c.state,
		Protocol:                c.protocol,
		OfferedProtocols:        append([]protocol.TypeInfo(nil), c.offered...),
		Profiles:                c.profiles.Entries(),
		ProfileDetails:          maps.Clone(c.profileDetails),
		PeerSupportsCompression: c.compression,
		Properties:              maps.Clone(c.properties),
		Subscriptions:           maps.Clone(c.subscriptions),
		PendingRequests:         pending,
		LastActivity:            c.lastActivity,
	}
	if c.capabilities != nil {
		caps := *c.capabilities
		out.PropertyCapabilities = &caps
	}
	return out
}

// subscriptionFor returns the subscribeId held for a resource key.
func (c *conn) subscriptionFor(key string) (string, bool) {
	for id, k := range c.subscriptions {
		if k == key {
			return id, true
		}
	}
	return "", false
}

// RequestKind identifies the property request a result belongs to.
type RequestKind uint8

const (
	RequestGet RequestKind = iota + 1
	RequestSet
	RequestSubscribe
	RequestUnsubscribe
)

// String returns the request kind name.
func (k RequestKind) String() string {
	switch k {
	case RequestGet:
		return "GET"
	case RequestSet:
		return "SET"
	case RequestSubscribe:
		return "SUBSCRIBE"
	case RequestUnsubscribe:
		return "UNSUBSCRIBE"
	default:
		return "UNKNOWN"
	}
}

// PropertyResult reports the outcome of a property request.
type PropertyResult struct {
	Peer      muid.MUID
	RequestID byte
	Kind      RequestKind
	Resource  string
	ResID     string

	// Header is the reply header; Status is Header.Status.
	Header property.Header
	Status int

	// Body is the decoded reply body.
	Body []byte

	// Err is set when the transaction failed locally (codec error,
	// timeout, abort).
	Err error
}

// OK reports whether the request succeeded.
func (r PropertyResult) OK() bool {
	return r.Err == nil && (r.Status == property.StatusOK || r.Status == property.StatusAccepted)
}

// SubscriptionUpdate is a subscription message received from a responder.
type SubscriptionUpdate struct {
	Peer        muid.MUID
	SubscribeID string
	Resource    string
	ResID       string
	Command     string
	Body        []byte
}
