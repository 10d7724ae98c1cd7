package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midici-protocol/midici-go/pkg/midici"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/protocol"
	"github.com/midici-protocol/midici-go/pkg/ump"
	"github.com/midici-protocol/midici-go/pkg/version"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

func TestLoadResponder(t *testing.T) {
	f, err := Load("testdata/synth.yaml")
	require.NoError(t, err)

	c, err := f.ResponderConfig()
	require.NoError(t, err)

	assert.Equal(t, muid.MUID(37564), c.MUID)
	assert.Equal(t, uint32(0x211F), c.Device.Manufacturer)
	assert.Equal(t, uint16(6), c.Device.Model)
	assert.Equal(t, "Poly-8", c.Device.ModelName)
	assert.Equal(t, "PX-0001", c.Device.SerialNumber)
	assert.Equal(t, []protocol.TypeInfo{
		{Type: protocol.TypeMidi2, Extensions: protocol.ExtMidi2Jitter},
		protocol.Midi1,
	}, c.Protocols)
	assert.True(t, c.Category.Has(wire.CategoryPropertyExchange))
	assert.False(t, c.Category.Has(wire.CategoryProcessInquiry))
	assert.True(t, c.EnableCompression)
	assert.Equal(t, 16, c.Subscriptions.MaxSubscriptions)
	assert.Equal(t, 50*time.Millisecond, c.Subscriptions.MinInterval)

	t.Run("profiles", func(t *testing.T) {
		require.NotNil(t, c.Profiles)
		entries := c.Profiles.Profiles()
		require.Len(t, entries, 2)
		assert.Equal(t, profile.Entry{ID: profile.Standard(0x21, 0, 1, 1), Target: profile.TargetPort, Enabled: true}, entries[0])
		assert.Equal(t, profile.Entry{ID: profile.Standard(1, 1, 1, 1), Target: 0}, entries[1])

		details, err := c.Profiles.Details(profile.Standard(1, 1, 1, 1), 0x01)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x10, 0x20}, details)
	})

	t.Run("properties", func(t *testing.T) {
		require.NotNil(t, c.Properties)
		resources := c.Properties.Resources()
		require.Len(t, resources, 2)
		assert.Equal(t, "X-Patches", resources[0].Resource)
		assert.Equal(t, property.CanSetNone, resources[0].CanSet)
		assert.Equal(t, "X-State", resources[1].Resource)
		assert.Equal(t, property.CanSetFull, resources[1].CanSet)
		assert.True(t, resources[1].CanSubscribe)

		body, err := c.Properties.Get("X-State", "")
		require.NoError(t, err)
		assert.JSONEq(t, `{"program":1}`, string(body))
	})
}

func TestLoadInitiator(t *testing.T) {
	f, err := Load("testdata/controller.yaml")
	require.NoError(t, err)

	c, err := f.InitiatorConfig()
	require.NoError(t, err)

	assert.True(t, c.AutoNegotiate)
	assert.False(t, c.AutoRequestProfiles)
	assert.False(t, c.AutoRequestPropertyCapabilities)
	assert.False(t, c.EnableCompression)
	assert.Equal(t, muid.MUID(0), c.MUID)
	assert.Equal(t, uint32(midici.DefaultMaxSysExSize), c.MaxSysExSize)
	assert.Equal(t, midici.DefaultConfig().Category, c.Category)

	// No endpoint section: defaults carry the device identity.
	ec, err := f.EndpointConfig()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7D), ec.Endpoint.Identity.Manufacturer)
	assert.Equal(t, version.UMP, ec.UMPVersion)
}

func TestEndpointConfig(t *testing.T) {
	f, err := Load("testdata/synth.yaml")
	require.NoError(t, err)

	c, err := f.EndpointConfig()
	require.NoError(t, err)

	e := c.Endpoint
	assert.Equal(t, "Poly-8", e.Name)
	assert.Equal(t, "PX-0001", e.ProductInstanceID)
	assert.True(t, e.Static)
	assert.True(t, e.Stream.ProtocolNegotiation)
	assert.True(t, e.Stream.FunctionBlocks)
	assert.True(t, e.Stream.ReceiveJR)
	assert.False(t, e.Stream.TransmitJR)
	assert.Equal(t, protocol.Midi2ThenMidi1, e.Protocols)
	assert.Equal(t, uint16(0x0102), e.Identity.Family)

	require.Len(t, e.FunctionBlocks, 2)
	assert.Equal(t, ump.FunctionBlock{
		Name: "Keys", GroupIndex: 0, GroupCount: 1,
		Direction: ump.DirectionBidirectional, UIHint: ump.UIHintBoth,
		Active: true, CIVersion: 2,
	}, e.FunctionBlocks[0])
	assert.Equal(t, ump.FunctionBlock{
		Name: "DIN Out", GroupIndex: 1, GroupCount: 2, MIDI1: ump.MIDI1Restricted,
		Direction: ump.DirectionOutput, UIHint: ump.UIHintReceiver,
	}, e.FunctionBlocks[1])
}

func TestInvalidConfigs(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		build func(*File) error
		err   error
	}{
		{
			name:  "unknown protocol",
			yaml:  "protocols: [midi3]",
			build: func(f *File) error { _, err := f.Shared(); return err },
			err:   ErrInvalid,
		},
		{
			name:  "unknown category",
			yaml:  "categories: [telepathy]",
			build: func(f *File) error { _, err := f.Shared(); return err },
			err:   ErrInvalid,
		},
		{
			name:  "small sysex",
			yaml:  "maxSysExSize: 64",
			build: func(f *File) error { _, err := f.Shared(); return err },
			err:   midici.ErrInvalidConfig,
		},
		{
			name:  "reserved muid",
			yaml:  "muid: 0x0FFFFFFF",
			build: func(f *File) error { _, err := f.InitiatorConfig(); return err },
			err:   midici.ErrInvalidConfig,
		},
		{
			name:  "short profile id",
			yaml:  "profiles: [{id: '7E 21'}]",
			build: func(f *File) error { _, err := f.ResponderConfig(); return err },
			err:   ErrInvalid,
		},
		{
			name:  "bad profile target",
			yaml:  "profiles: [{id: '7E 21 00 01 01', target: '16'}]",
			build: func(f *File) error { _, err := f.ResponderConfig(); return err },
			err:   ErrInvalid,
		},
		{
			name:  "bad canSet",
			yaml:  "properties: [{resource: X-A, canSet: sometimes}]",
			build: func(f *File) error { _, err := f.ResponderConfig(); return err },
			err:   ErrInvalid,
		},
		{
			name:  "bad direction",
			yaml:  "endpoint: {protocols: [midi2], functionBlocks: [{name: A, direction: sideways}]}",
			build: func(f *File) error { _, err := f.EndpointConfig(); return err },
			err:   ErrInvalid,
		},
		{
			name:  "group overflow",
			yaml:  "endpoint: {protocols: [midi2], functionBlocks: [{name: A, group: 15, groups: 2}]}",
			build: func(f *File) error { _, err := f.EndpointConfig(); return err },
			err:   ump.ErrInvalidConfig,
		},
		{
			name:  "bad ump version",
			yaml:  "endpoint: {umpVersion: one}",
			build: func(f *File) error { _, err := f.EndpointConfig(); return err },
			err:   ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			err = tt.build(f)
			assert.True(t, errors.Is(err, tt.err), "got %v, want %v", err, tt.err)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("device: [unclosed"))
	assert.ErrorContains(t, err, "YAML parse error")

	_, err = Load("testdata/missing.yaml")
	assert.ErrorContains(t, err, "read config")
}

func TestParseHex(t *testing.T) {
	b, err := parseHex("7e 0x21 00  7F")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E, 0x21, 0x00, 0x7F}, b)

	_, err = parseHex("7E 100")
	assert.Error(t, err)
}
