package midici

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/midici-protocol/midici-go/pkg/log"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/protocol"
	"github.com/midici-protocol/midici-go/pkg/subscription"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

// Size limits.
const (
	// MinSysExSize is the smallest receivable SysEx size MIDI-CI allows.
	MinSysExSize = 128

	// DefaultMaxSysExSize is used when no size is configured.
	DefaultMaxSysExSize = 512

	// DefaultMaxSimultaneousRequests is the property request limit
	// advertised in capability replies.
	DefaultMaxSimultaneousRequests = 4
)

// Config holds the settings shared by initiators and responders.
type Config struct {
	// Device is the local device identity.
	Device DeviceInfo

	// MUID fixes the local MUID. Zero selects a random MUID.
	MUID muid.MUID

	// RandomSource feeds MUID generation. Nil uses math/rand/v2.
	RandomSource func() uint32

	// Protocols lists supported protocols in preference order.
	Protocols []protocol.TypeInfo

	// Category is the Capability Inquiry Category Supported bitmap sent in
	// Discovery and Discovery Reply.
	Category wire.Category

	// MaxSysExSize is the largest SysEx message this device receives.
	MaxSysExSize uint32

	// MaxSimultaneousRequests bounds concurrent property transactions.
	MaxSimultaneousRequests byte

	// EnableCompression allows the zlib+Mcoded7 body encoding.
	EnableCompression bool

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives structured protocol events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns a config supporting every category, preferring
// MIDI 2.0 over MIDI 1.0.
func DefaultConfig() Config {
	return Config{
		Protocols:               append([]protocol.TypeInfo(nil), protocol.Midi2ThenMidi1...),
		Category:                wire.CategoryProtocolNegotiation | wire.CategoryProfiles | wire.CategoryPropertyExchange,
		MaxSysExSize:            DefaultMaxSysExSize,
		MaxSimultaneousRequests: DefaultMaxSimultaneousRequests,
		EnableCompression:       true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MUID != 0 && (!c.MUID.IsValid() || c.MUID.IsReserved()) {
		return fmt.Errorf("%w: MUID %s is reserved or out of range", ErrInvalidConfig, c.MUID)
	}
	if c.MaxSysExSize < MinSysExSize {
		return fmt.Errorf("%w: max SysEx size %d below %d", ErrInvalidConfig, c.MaxSysExSize, MinSysExSize)
	}
	if c.MaxSimultaneousRequests == 0 || c.MaxSimultaneousRequests > 0x7F {
		return fmt.Errorf("%w: max simultaneous requests %d", ErrInvalidConfig, c.MaxSimultaneousRequests)
	}
	if c.Category.Has(wire.CategoryProtocolNegotiation) && len(c.Protocols) == 0 {
		return fmt.Errorf("%w: protocol negotiation without protocols", ErrInvalidConfig)
	}
	if c.Device.Manufacturer > 0x1FFFFF || c.Device.Family > 0x3FFF || c.Device.Model > 0x3FFF || c.Device.Version > 0x0FFFFFFF {
		return fmt.Errorf("%w: device identity exceeds septet range", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) clock() func() time.Time {
	if c.Clock == nil {
		return time.Now
	}
	return c.Clock
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// InitiatorConfig configures an Initiator.
type InitiatorConfig struct {
	Config

	// AutoNegotiate starts protocol negotiation with every discovered
	// peer that supports it.
	AutoNegotiate bool

	// AutoRequestProfiles sends a Profile Inquiry when a connection
	// becomes active.
	AutoRequestProfiles bool

	// AutoRequestPropertyCapabilities sends a PE capabilities inquiry when
	// a connection becomes active.
	AutoRequestPropertyCapabilities bool
}

// DefaultInitiatorConfig returns the default initiator configuration.
func DefaultInitiatorConfig() InitiatorConfig {
	return InitiatorConfig{
		Config:                          DefaultConfig(),
		AutoNegotiate:                   true,
		AutoRequestProfiles:             true,
		AutoRequestPropertyCapabilities: true,
	}
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	Config

	// Profiles provides the implemented profiles. Nil means none.
	Profiles profile.Service

	// Properties provides application resources. ResourceList and
	// DeviceInfo are always served.
	Properties property.Service

	// Subscriptions configures the property subscription manager.
	Subscriptions subscription.Config
}

// DefaultResponderConfig returns the default responder configuration.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		Config:        DefaultConfig(),
		Subscriptions: subscription.DefaultConfig(),
	}
}
