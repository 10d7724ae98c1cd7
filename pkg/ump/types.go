package ump

import (
	"errors"
	"fmt"
	"slices"

	"github.com/midici-protocol/midici-go/pkg/protocol"
	"github.com/midici-protocol/midici-go/pkg/version"
)

// Endpoint errors.
var (
	ErrInvalidConfig     = errors.New("invalid endpoint configuration")
	ErrInvalidBlock      = errors.New("invalid function block")
	ErrTooManyBlocks     = errors.New("too many function blocks")
	ErrUnknownBlock      = errors.New("unknown function block")
	ErrStaticBlocks      = errors.New("function blocks are static")
	ErrProtocolMismatch  = errors.New("no common stream protocol")
	ErrIncompatibleMajor = errors.New("incompatible UMP version")
)

// Groups is the number of groups addressable on one UMP endpoint.
const Groups = 16

// MIDI1Bandwidth tells whether a block carries MIDI 1.0 and at what speed.
type MIDI1Bandwidth uint8

const (
	MIDI1None         MIDI1Bandwidth = 0
	MIDI1Unrestricted MIDI1Bandwidth = 1
	MIDI1Restricted   MIDI1Bandwidth = 2 // 31.25 kbps
)

// String returns the bandwidth class name.
func (b MIDI1Bandwidth) String() string {
	switch b {
	case MIDI1None:
		return "NONE"
	case MIDI1Unrestricted:
		return "UNRESTRICTED"
	case MIDI1Restricted:
		return "31.25KBPS"
	default:
		return fmt.Sprintf("RESERVED(%d)", uint8(b))
	}
}

// Direction is the data direction of a function block.
type Direction uint8

const (
	DirectionInput         Direction = 1
	DirectionOutput        Direction = 2
	DirectionBidirectional Direction = 3
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "INPUT"
	case DirectionOutput:
		return "OUTPUT"
	case DirectionBidirectional:
		return "BIDIRECTIONAL"
	default:
		return fmt.Sprintf("RESERVED(%d)", uint8(d))
	}
}

// UIHint suggests how a user interface presents a function block.
type UIHint uint8

const (
	UIHintUnknown  UIHint = 0
	UIHintReceiver UIHint = 1
	UIHintSender   UIHint = 2
	UIHintBoth     UIHint = 3
)

// String returns the hint name.
func (h UIHint) String() string {
	switch h {
	case UIHintReceiver:
		return "RECEIVER"
	case UIHintSender:
		return "SENDER"
	case UIHintBoth:
		return "SENDER_RECEIVER"
	default:
		return "UNKNOWN"
	}
}

// FunctionBlock is a logical sub-device spanning one or more groups.
type FunctionBlock struct {
	// Number is the block number on the wire. AddFunctionBlock assigns it.
	Number byte

	Name       string
	GroupIndex byte
	GroupCount byte
	MIDI1      MIDI1Bandwidth
	Direction  Direction
	UIHint     UIHint
	Active     bool

	// CIVersion is the MIDI-CI message format version the block supports;
	// zero means none.
	CIVersion        byte
	MaxSysEx8Streams byte
}

// Validate checks group bounds and field ranges.
func (fb FunctionBlock) Validate() error {
	switch {
	case fb.GroupCount == 0:
		return fmt.Errorf("%w: spans no groups", ErrInvalidBlock)
	case int(fb.GroupIndex)+int(fb.GroupCount) > Groups:
		return fmt.Errorf("%w: groups %d+%d exceed %d", ErrInvalidBlock, fb.GroupIndex, fb.GroupCount, Groups)
	case fb.Direction == 0 || fb.Direction > DirectionBidirectional:
		return fmt.Errorf("%w: direction %d", ErrInvalidBlock, fb.Direction)
	case fb.MIDI1 > MIDI1Restricted:
		return fmt.Errorf("%w: MIDI 1.0 class %d", ErrInvalidBlock, fb.MIDI1)
	case fb.UIHint > UIHintBoth:
		return fmt.Errorf("%w: UI hint %d", ErrInvalidBlock, fb.UIHint)
	case len(fb.Name) > MaxBlockName:
		return fmt.Errorf("%w: name is %d bytes", ErrInvalidBlock, len(fb.Name))
	}
	return nil
}

// DeviceIdentity mirrors the MIDI-CI device identity: SysEx manufacturer
// id, family, model and software revision.
type DeviceIdentity struct {
	Manufacturer uint32
	Family       uint16
	Model        uint16
	Version      uint32
}

// Validate checks that every field fits its 7-bit wire form.
func (id DeviceIdentity) Validate() error {
	if id.Manufacturer >= 1<<21 || id.Family >= 1<<14 || id.Model >= 1<<14 || id.Version >= 1<<28 {
		return fmt.Errorf("%w: device identity exceeds septet range", ErrInvalidField)
	}
	return nil
}

// StreamConfiguration lists the stream capabilities of an endpoint.
type StreamConfiguration struct {
	// ProtocolNegotiation enables Stream Configuration requests after
	// discovery.
	ProtocolNegotiation bool

	// FunctionBlocks enables Function Block Discovery after discovery.
	FunctionBlocks bool

	// Jitter-reduction timestamp support.
	ReceiveJR  bool
	TransmitJR bool
}

// EndpointConfiguration describes the local endpoint.
type EndpointConfiguration struct {
	// ID names the endpoint locally. It is not sent on the wire.
	ID string

	Name              string
	ProductInstanceID string
	Identity          DeviceIdentity
	Stream            StreamConfiguration

	// Protocols is the stream protocol preference list.
	Protocols []protocol.TypeInfo

	// Static marks the function block list as fixed.
	Static bool

	FunctionBlocks []FunctionBlock
}

// Validate checks the configuration.
func (c EndpointConfiguration) Validate() error {
	if len(c.Name) > MaxEndpointName {
		return fmt.Errorf("%w: name is %d bytes", ErrInvalidConfig, len(c.Name))
	}
	if len(c.ProductInstanceID) > MaxEndpointName {
		return fmt.Errorf("%w: product instance id is %d bytes", ErrInvalidConfig, len(c.ProductInstanceID))
	}
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(c.Protocols) == 0 {
		return fmt.Errorf("%w: no stream protocols", ErrInvalidConfig)
	}
	if len(c.FunctionBlocks) > MaxFunctionBlocks {
		return fmt.Errorf("%w: %d function blocks", ErrInvalidConfig, len(c.FunctionBlocks))
	}
	for _, fb := range c.FunctionBlocks {
		if err := fb.Validate(); err != nil {
			return fmt.Errorf("%w: block %q: %v", ErrInvalidConfig, fb.Name, err)
		}
	}
	return nil
}

func (c EndpointConfiguration) clone() EndpointConfiguration {
	c.Protocols = slices.Clone(c.Protocols)
	c.FunctionBlocks = slices.Clone(c.FunctionBlocks)
	return c
}

func (c EndpointConfiguration) supports(t protocol.Type) bool {
	for _, p := range c.Protocols {
		if p.Type == t {
			return true
		}
	}
	return false
}

// TargetEndpoint is the discovered peer endpoint as mirrored by the
// discovering side.
type TargetEndpoint struct {
	UMPVersion        version.SpecVersion
	Name              string
	ProductInstanceID string
	Identity          DeviceIdentity
	Static            bool

	// NumFunctionBlocks is the block count the peer announced. Peers
	// only report active blocks, so FunctionBlocks may hold fewer.
	NumFunctionBlocks int

	MIDI1      bool
	MIDI2      bool
	ReceiveJR  bool
	TransmitJR bool

	// Protocol is the stream protocol from the latest Stream
	// Configuration Notification.
	Protocol protocol.TypeInfo

	// FunctionBlocks in arrival order, one per group index. A later
	// report for the same group index replaces the earlier one.
	FunctionBlocks []FunctionBlock
}

// Offered returns the stream protocols the peer reported, MIDI 2.0 first.
func (t TargetEndpoint) Offered() []protocol.TypeInfo {
	var out []protocol.TypeInfo
	if t.MIDI2 {
		out = append(out, protocol.Midi2)
	}
	if t.MIDI1 {
		out = append(out, protocol.Midi1)
	}
	return out
}

// FunctionBlock returns the mirrored block starting at group.
func (t TargetEndpoint) FunctionBlock(group byte) (FunctionBlock, bool) {
	for _, fb := range t.FunctionBlocks {
		if fb.GroupIndex == group {
			return fb, true
		}
	}
	return FunctionBlock{}, false
}

func (t TargetEndpoint) clone() TargetEndpoint {
	t.FunctionBlocks = slices.Clone(t.FunctionBlocks)
	return t
}

// State is the discovery state of an Endpoint.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateDiscovered
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDiscovering:
		return "DISCOVERING"
	case StateDiscovered:
		return "DISCOVERED"
	default:
		return "UNKNOWN"
	}
}
