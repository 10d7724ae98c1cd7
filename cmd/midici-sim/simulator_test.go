package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midici-protocol/midici-go/pkg/config"
	"github.com/midici-protocol/midici-go/pkg/midici"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/ump"
)

const synthConfig = "../../pkg/config/testdata/synth.yaml"

func startTestSimulator(t *testing.T, opts simOptions) *simulator {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	sim, err := newSimulator(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		sim.Close()
	})

	sim.Start(ctx)
	require.NoError(t, startLocal(ctx, sim))
	return sim
}

func activePeer(t *testing.T, sim *simulator) midici.Connection {
	t.Helper()
	var conn midici.Connection
	require.Eventually(t, func() bool {
		for _, c := range sim.Peers() {
			if c.State == midici.StateActive {
				conn = c
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return conn
}

func TestLocalSimulation(t *testing.T) {
	synth, err := config.Load(synthConfig)
	require.NoError(t, err)

	sim := startTestSimulator(t, simOptions{
		Initiator: &config.File{},
		Responder: synth,
		Get:       []string{"X-State"},
		Subscribe: []string{"X-State"},
	})

	peer := activePeer(t, sim)
	assert.Equal(t, synth.MUID, uint32(peer.MUID))

	require.Eventually(t, func() bool {
		return len(sim.Subscriptions()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, c := range sim.Peers() {
			if body, ok := c.Properties["X-State"]; ok {
				return string(body) == `{"program":1}`
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	t.Run("touch", func(t *testing.T) {
		require.NoError(t, sim.Touch("X-State", []byte(`{"program":9}`)))
		assert.Error(t, sim.Touch("X-Missing", []byte(`{}`)))
	})

	t.Run("profiles", func(t *testing.T) {
		require.NoError(t, sim.RequestProfiles(peer.MUID))
		require.Eventually(t, func() bool {
			for _, c := range sim.Peers() {
				if len(c.Profiles) > 0 {
					return true
				}
			}
			return false
		}, 5*time.Second, 10*time.Millisecond)

		gm := profile.Standard(0x21, 0x00, 0x01, 0x01)
		require.NoError(t, sim.DisableProfile(gm))
		for _, e := range sim.LocalProfiles() {
			if e.ID == gm {
				assert.False(t, e.Enabled)
			}
		}
	})

	t.Run("endpoint", func(t *testing.T) {
		require.Eventually(t, func() bool {
			target, _ := sim.TargetEndpoint()
			return target.Name == "Poly-8" && len(target.FunctionBlocks) == 1
		}, 5*time.Second, 10*time.Millisecond)

		target, state := sim.TargetEndpoint()
		assert.Equal(t, ump.StateDiscovered, state)
		assert.Equal(t, ump.DirectionBidirectional, target.FunctionBlocks[0].Direction)
		assert.Equal(t, "Keys", target.FunctionBlocks[0].Name)
	})
}

func TestControlsReflectRoles(t *testing.T) {
	sim, err := newSimulator(simOptions{Responder: &config.File{}})
	require.NoError(t, err)
	defer sim.Close()

	i, r := sim.controls()
	assert.Nil(t, i)
	assert.NotNil(t, r)

	assert.ErrorIs(t, sim.Touch("X-State", nil), errNoProperties)
	assert.Error(t, sim.Discover())
}

func TestBuildOptions(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		wantInitiator bool
		wantResponder bool
	}{
		{"local", Config{}, true, true},
		{"listen", Config{Listen: ":0"}, false, true},
		{"connect", Config{Connect: "127.0.0.1:5673"}, true, false},
		{"browse", Config{Browse: true}, true, false},
		{"both", Config{UMPListen: ":0", UMPConnect: "x:1"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := buildOptions(&tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantInitiator, opts.Initiator != nil)
			assert.Equal(t, tt.wantResponder, opts.Responder != nil)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	valid := Config{LogLevel: "info", SimulateInterval: time.Second}
	assert.NoError(t, validateConfig(&valid))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"browse and connect", func(c *Config) { c.Browse = true; c.Connect = "x:1" }},
		{"advertise without listen", func(c *Config) { c.Advertise = true }},
		{"reconnect without target", func(c *Config) { c.Reconnect = true }},
		{"simulate interval", func(c *Config) { c.Simulate = true; c.SimulateInterval = 0 }},
		{"instance name", func(c *Config) { c.Instance = string(make([]byte, 64)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, validateConfig(&c))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"DeviceInfo", "X-State"}, splitList(" DeviceInfo, ,X-State "))
	assert.Nil(t, splitList(""))
}
