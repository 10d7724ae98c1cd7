// Package config loads device configurations from YAML files.
//
// One file describes a device: its identity, the MIDI-CI settings shared by
// the initiator and responder roles, the profiles and property resources it
// hosts, and its UMP endpoint. The loaded File converts into the config
// structs of pkg/midici and pkg/ump; loggers and clocks are left for the
// caller to set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/midici-protocol/midici-go/pkg/midici"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/protocol"
	"github.com/midici-protocol/midici-go/pkg/ump"
	"github.com/midici-protocol/midici-go/pkg/version"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

// ErrInvalid is returned for values the YAML schema accepts but the
// device model does not.
var ErrInvalid = errors.New("invalid configuration")

// File is a parsed device configuration.
type File struct {
	Device        Device        `yaml:"device"`
	MUID          uint32        `yaml:"muid"`
	Protocols     []string      `yaml:"protocols"`
	Categories    []string      `yaml:"categories"`
	MaxSysExSize  uint32        `yaml:"maxSysExSize"`
	MaxRequests   byte          `yaml:"maxSimultaneousRequests"`
	Compression   *bool         `yaml:"compression"`
	Initiator     Initiator     `yaml:"initiator"`
	Profiles      []Profile     `yaml:"profiles"`
	Properties    []Property    `yaml:"properties"`
	Subscriptions Subscriptions `yaml:"subscriptions"`
	Endpoint      *Endpoint     `yaml:"endpoint"`
}

// Device is the device identity section.
type Device struct {
	Manufacturer     uint32 `yaml:"manufacturer"`
	Family           uint16 `yaml:"family"`
	Model            uint16 `yaml:"model"`
	Version          uint32 `yaml:"version"`
	ManufacturerName string `yaml:"manufacturerName"`
	FamilyName       string `yaml:"familyName"`
	ModelName        string `yaml:"modelName"`
	VersionName      string `yaml:"versionName"`
	SerialNumber     string `yaml:"serialNumber"`
}

// Initiator holds the automatic steps an initiator takes after discovery.
// Unset fields default to true.
type Initiator struct {
	AutoNegotiate                   *bool `yaml:"autoNegotiate"`
	AutoRequestProfiles             *bool `yaml:"autoRequestProfiles"`
	AutoRequestPropertyCapabilities *bool `yaml:"autoRequestPropertyCapabilities"`
}

// Profile declares one hosted profile.
type Profile struct {
	// ID is five hex bytes, e.g. "7E 21 00 01 01".
	ID string `yaml:"id"`

	// Target is a channel number or "port".
	Target  string `yaml:"target"`
	Enabled bool   `yaml:"enabled"`

	// Details maps an inquiry target byte to hex data.
	Details map[byte]string `yaml:"details"`
}

// Property declares one hosted resource and its initial body.
type Property struct {
	Resource     string   `yaml:"resource"`
	CanSet       string   `yaml:"canSet"`
	CanSubscribe bool     `yaml:"canSubscribe"`
	MediaTypes   []string `yaml:"mediaTypes"`
	Body         string   `yaml:"body"`
}

// Subscriptions configures the responder's subscription manager.
type Subscriptions struct {
	Max         int           `yaml:"max"`
	MinInterval time.Duration `yaml:"minInterval"`
}

// Endpoint is the UMP endpoint section.
type Endpoint struct {
	Name                   string          `yaml:"name"`
	ProductInstanceID      string          `yaml:"productInstanceId"`
	UMPVersion             string          `yaml:"umpVersion"`
	Protocols              []string        `yaml:"protocols"`
	Static                 bool            `yaml:"static"`
	ProtocolNegotiation    bool            `yaml:"protocolNegotiation"`
	FunctionBlockDiscovery bool            `yaml:"functionBlockDiscovery"`
	ReceiveJR              bool            `yaml:"receiveJR"`
	TransmitJR             bool            `yaml:"transmitJR"`
	FunctionBlocks         []FunctionBlock `yaml:"functionBlocks"`
}

// FunctionBlock declares one UMP function block.
type FunctionBlock struct {
	Name             string `yaml:"name"`
	Group            byte   `yaml:"group"`
	Groups           byte   `yaml:"groups"`
	MIDI1            string `yaml:"midi1"`
	Direction        string `yaml:"direction"`
	UIHint           string `yaml:"uiHint"`
	Active           *bool  `yaml:"active"`
	CIVersion        byte   `yaml:"ciVersion"`
	MaxSysEx8Streams byte   `yaml:"maxSysEx8Streams"`
}

// Load reads and parses a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses configuration YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	return &f, nil
}

// Shared returns the settings common to both MIDI-CI roles.
func (f *File) Shared() (midici.Config, error) {
	c := midici.DefaultConfig()
	c.Device = midici.DeviceInfo{
		Manufacturer:     f.Device.Manufacturer,
		Family:           f.Device.Family,
		Model:            f.Device.Model,
		Version:          f.Device.Version,
		ManufacturerName: f.Device.ManufacturerName,
		FamilyName:       f.Device.FamilyName,
		ModelName:        f.Device.ModelName,
		VersionName:      f.Device.VersionName,
		SerialNumber:     f.Device.SerialNumber,
	}
	c.MUID = muid.MUID(f.MUID)

	if len(f.Protocols) > 0 {
		protocols, err := parseProtocols(f.Protocols)
		if err != nil {
			return midici.Config{}, err
		}
		c.Protocols = protocols
	}
	if len(f.Categories) > 0 {
		category, err := parseCategories(f.Categories)
		if err != nil {
			return midici.Config{}, err
		}
		c.Category = category
	}
	if f.MaxSysExSize != 0 {
		c.MaxSysExSize = f.MaxSysExSize
	}
	if f.MaxRequests != 0 {
		c.MaxSimultaneousRequests = f.MaxRequests
	}
	if f.Compression != nil {
		c.EnableCompression = *f.Compression
	}

	if err := c.Validate(); err != nil {
		return midici.Config{}, err
	}
	return c, nil
}

// InitiatorConfig builds the initiator configuration.
func (f *File) InitiatorConfig() (midici.InitiatorConfig, error) {
	shared, err := f.Shared()
	if err != nil {
		return midici.InitiatorConfig{}, err
	}
	c := midici.DefaultInitiatorConfig()
	c.Config = shared
	c.AutoNegotiate = boolOr(f.Initiator.AutoNegotiate, true)
	c.AutoRequestProfiles = boolOr(f.Initiator.AutoRequestProfiles, true)
	c.AutoRequestPropertyCapabilities = boolOr(f.Initiator.AutoRequestPropertyCapabilities, true)
	return c, nil
}

// ResponderConfig builds the responder configuration with in-memory
// profile and property services seeded from the file.
func (f *File) ResponderConfig() (midici.ResponderConfig, error) {
	shared, err := f.Shared()
	if err != nil {
		return midici.ResponderConfig{}, err
	}
	c := midici.DefaultResponderConfig()
	c.Config = shared

	if len(f.Profiles) > 0 {
		profiles, err := f.profileService()
		if err != nil {
			return midici.ResponderConfig{}, err
		}
		c.Profiles = profiles
	}
	if len(f.Properties) > 0 {
		properties, err := f.propertyService()
		if err != nil {
			return midici.ResponderConfig{}, err
		}
		c.Properties = properties
	}

	if f.Subscriptions.Max != 0 {
		c.Subscriptions.MaxSubscriptions = f.Subscriptions.Max
	}
	if f.Subscriptions.MinInterval < 0 {
		return midici.ResponderConfig{}, fmt.Errorf("%w: negative subscription interval", ErrInvalid)
	}
	c.Subscriptions.MinInterval = f.Subscriptions.MinInterval
	return c, nil
}

func (f *File) profileService() (*profile.MemoryService, error) {
	entries := make([]profile.Entry, 0, len(f.Profiles))
	type details struct {
		id     profile.ID
		target byte
		data   []byte
	}
	var pending []details

	for i, p := range f.Profiles {
		raw, err := parseHex(p.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: profile %d id: %v", ErrInvalid, i, err)
		}
		if len(raw) != profile.IDSize {
			return nil, fmt.Errorf("%w: profile %d id has %d bytes", ErrInvalid, i, len(raw))
		}
		id, _ := profile.ParseID(raw)

		target, err := parseTarget(p.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: profile %s: %v", ErrInvalid, id, err)
		}
		entries = append(entries, profile.Entry{ID: id, Target: target, Enabled: p.Enabled})

		for inquiry, hex := range p.Details {
			data, err := parseHex(hex)
			if err != nil {
				return nil, fmt.Errorf("%w: profile %s details: %v", ErrInvalid, id, err)
			}
			pending = append(pending, details{id, inquiry, data})
		}
	}

	svc := profile.NewMemoryService(entries...)
	for _, d := range pending {
		svc.SetDetails(d.id, d.target, d.data)
	}
	return svc, nil
}

func (f *File) propertyService() (*property.MemoryService, error) {
	svc := property.NewMemoryService()
	for _, p := range f.Properties {
		if p.Resource == "" {
			return nil, fmt.Errorf("%w: property without resource name", ErrInvalid)
		}
		canSet := p.CanSet
		switch canSet {
		case "":
			canSet = property.CanSetNone
		case property.CanSetNone, property.CanSetFull, property.CanSetPartial:
		default:
			return nil, fmt.Errorf("%w: property %s canSet %q", ErrInvalid, p.Resource, p.CanSet)
		}
		svc.Add(property.ResourceInfo{
			Resource:     p.Resource,
			CanGet:       true,
			CanSet:       canSet,
			CanSubscribe: p.CanSubscribe,
			MediaTypes:   p.MediaTypes,
		}, []byte(p.Body))
	}
	return svc, nil
}

// EndpointConfig builds the UMP endpoint configuration. A file without an
// endpoint section yields ump.DefaultConfig with the device identity.
func (f *File) EndpointConfig() (ump.Config, error) {
	c := ump.DefaultConfig()
	c.Endpoint.Identity = ump.DeviceIdentity{
		Manufacturer: f.Device.Manufacturer,
		Family:       f.Device.Family,
		Model:        f.Device.Model,
		Version:      f.Device.Version,
	}
	e := f.Endpoint
	if e == nil {
		return c, c.Endpoint.Validate()
	}

	c.Endpoint.Name = e.Name
	c.Endpoint.ProductInstanceID = e.ProductInstanceID
	c.Endpoint.Static = e.Static
	c.Endpoint.Stream = ump.StreamConfiguration{
		ProtocolNegotiation: e.ProtocolNegotiation,
		FunctionBlocks:      e.FunctionBlockDiscovery,
		ReceiveJR:           e.ReceiveJR,
		TransmitJR:          e.TransmitJR,
	}
	if e.UMPVersion != "" {
		v, err := version.Parse(e.UMPVersion)
		if err != nil {
			return ump.Config{}, fmt.Errorf("%w: UMP version: %v", ErrInvalid, err)
		}
		c.UMPVersion = v
	}
	if len(e.Protocols) > 0 {
		protocols, err := parseProtocols(e.Protocols)
		if err != nil {
			return ump.Config{}, err
		}
		c.Endpoint.Protocols = protocols
	}

	c.Endpoint.FunctionBlocks = nil
	for _, b := range e.FunctionBlocks {
		fb, err := b.build()
		if err != nil {
			return ump.Config{}, err
		}
		c.Endpoint.FunctionBlocks = append(c.Endpoint.FunctionBlocks, fb)
	}

	if err := c.Endpoint.Validate(); err != nil {
		return ump.Config{}, err
	}
	return c, nil
}

func (b FunctionBlock) build() (ump.FunctionBlock, error) {
	fb := ump.FunctionBlock{
		Name:             b.Name,
		GroupIndex:       b.Group,
		GroupCount:       max(b.Groups, 1),
		Direction:        ump.DirectionBidirectional,
		Active:           boolOr(b.Active, true),
		CIVersion:        b.CIVersion,
		MaxSysEx8Streams: b.MaxSysEx8Streams,
	}

	switch strings.ToLower(b.MIDI1) {
	case "", "none":
	case "unrestricted":
		fb.MIDI1 = ump.MIDI1Unrestricted
	case "restricted", "31.25kbps":
		fb.MIDI1 = ump.MIDI1Restricted
	default:
		return fb, fmt.Errorf("%w: block %q midi1 %q", ErrInvalid, b.Name, b.MIDI1)
	}

	switch strings.ToLower(b.Direction) {
	case "", "bidirectional":
	case "input":
		fb.Direction = ump.DirectionInput
	case "output":
		fb.Direction = ump.DirectionOutput
	default:
		return fb, fmt.Errorf("%w: block %q direction %q", ErrInvalid, b.Name, b.Direction)
	}

	switch strings.ToLower(b.UIHint) {
	case "", "unknown":
	case "receiver":
		fb.UIHint = ump.UIHintReceiver
	case "sender":
		fb.UIHint = ump.UIHintSender
	case "both", "sender_receiver":
		fb.UIHint = ump.UIHintBoth
	default:
		return fb, fmt.Errorf("%w: block %q uiHint %q", ErrInvalid, b.Name, b.UIHint)
	}
	return fb, nil
}

func parseProtocols(names []string) ([]protocol.TypeInfo, error) {
	out := make([]protocol.TypeInfo, 0, len(names))
	for _, name := range names {
		var p protocol.TypeInfo
		base, ext, _ := strings.Cut(strings.ToLower(name), "+")
		switch base {
		case "midi1", "midi1.0":
			p = protocol.Midi1
		case "midi2", "midi2.0":
			p = protocol.Midi2
		default:
			return nil, fmt.Errorf("%w: protocol %q", ErrInvalid, name)
		}
		switch ext {
		case "":
		case "jr":
			if p.Type == protocol.TypeMidi1 {
				p.Extensions = protocol.ExtMidi1Jitter
			} else {
				p.Extensions = protocol.ExtMidi2Jitter
			}
		default:
			return nil, fmt.Errorf("%w: protocol extension %q", ErrInvalid, ext)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseCategories(names []string) (wire.Category, error) {
	var c wire.Category
	for _, name := range names {
		switch strings.ToLower(name) {
		case "protocolnegotiation":
			c |= wire.CategoryProtocolNegotiation
		case "profiles":
			c |= wire.CategoryProfiles
		case "propertyexchange":
			c |= wire.CategoryPropertyExchange
		case "processinquiry":
			c |= wire.CategoryProcessInquiry
		default:
			return 0, fmt.Errorf("%w: category %q", ErrInvalid, name)
		}
	}
	return c, nil
}

func parseTarget(s string) (byte, error) {
	if s == "" || strings.EqualFold(s, "port") {
		return profile.TargetPort, nil
	}
	ch, err := strconv.ParseUint(s, 10, 8)
	if err != nil || ch > 15 {
		return 0, fmt.Errorf("target %q is neither a channel nor port", s)
	}
	return byte(ch), nil
}

// parseHex parses space separated hex bytes.
func parseHex(s string) ([]byte, error) {
	fields := strings.Fields(s)
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(f), "0x"), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("bad hex byte %q", f)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
