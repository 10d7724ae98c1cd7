package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"

	"github.com/midici-protocol/midici-go/cmd/midici-sim/interactive"
	"github.com/midici-protocol/midici-go/pkg/config"
	cilog "github.com/midici-protocol/midici-go/pkg/log"
	"github.com/midici-protocol/midici-go/pkg/midici"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/subscription"
	"github.com/midici-protocol/midici-go/pkg/transport"
	"github.com/midici-protocol/midici-go/pkg/ump"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

// maxBodyPreview bounds property bodies echoed to the console.
const maxBodyPreview = 120

var errNoProperties = errors.New("responder has no properties")

// simOptions selects the roles a simulator runs. A nil file disables the
// role.
type simOptions struct {
	Initiator *config.File
	Responder *config.File

	// Get and Subscribe run against every peer that becomes active.
	Get       []string
	Subscribe []string

	Logger  *slog.Logger
	Capture cilog.Logger
}

type queuedRequest struct {
	peer     muid.MUID
	kind     midici.RequestKind
	resource string
}

// simulator hosts MIDI-CI roles and UMP endpoints on TCP buses. Every
// protocol instance has its own lock; bus handlers and maintenance tasks
// take it before touching the instance.
type simulator struct {
	opts   simOptions
	logger *slog.Logger
	maint  *transport.Maintenance

	initMu    sync.Mutex
	initiator *midici.Initiator
	ciOut     *bus[[]byte]
	states    map[muid.MUID]midici.ConnectionState
	queue     []queuedRequest

	guestMu sync.Mutex
	guest   *ump.Endpoint
	umpOut  *bus[[]uint32]

	respMu    sync.Mutex
	responder *midici.Responder
	ciIn      *bus[[]byte]
	props     *property.MemoryService

	hostMu sync.Mutex
	host   *ump.Endpoint
	umpIn  *bus[[]uint32]
}

func newSimulator(opts simOptions) (*simulator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s := &simulator{
		opts:   opts,
		logger: opts.Logger,
		maint:  transport.NewMaintenance(transport.DefaultMaintenanceConfig()),
		states: make(map[muid.MUID]midici.ConnectionState),
	}
	s.maint.OnError(func(err error) {
		s.logger.Warn("maintenance failed", "error", err)
	})

	if opts.Initiator != nil {
		if err := s.setupInitiator(opts.Initiator); err != nil {
			return nil, fmt.Errorf("initiator: %w", err)
		}
	}
	if opts.Responder != nil {
		if err := s.setupResponder(opts.Responder); err != nil {
			return nil, fmt.Errorf("responder: %w", err)
		}
	}
	return s, nil
}

func (s *simulator) portConfig(maxSysEx uint32) transport.PortConfig {
	return transport.PortConfig{
		MaxSysExSize: int(maxSysEx),
		Logger:       s.opts.Capture,
	}
}

func (s *simulator) setupInitiator(f *config.File) error {
	cfg, err := f.InitiatorConfig()
	if err != nil {
		return err
	}
	cfg.Logger = s.logger.With("role", "initiator")
	cfg.ProtocolLogger = s.opts.Capture

	s.ciOut = newBus("ci", transport.NewSysExPort, s.portConfig(cfg.MaxSysExSize), s.logger.With("role", "initiator"))
	s.initiator, err = midici.NewInitiator(cfg, s.ciOut.Send)
	if err != nil {
		return err
	}
	s.initiator.OnConnection(s.connectionChanged)
	s.initiator.OnProperty(s.propertyResult)
	s.initiator.OnSubscriptionUpdate(s.subscriptionUpdate)
	s.initiator.OnNAK(func(peer muid.MUID, nak *wire.NAK) {
		log.Printf("[NAK] %s rejected %s: status 0x%02X %s", peer, nak.OriginalSubID, nak.StatusCode, nak.Text)
	})
	s.ciOut.Handle(func(msg []byte) error {
		s.initMu.Lock()
		defer s.initMu.Unlock()
		if err := s.initiator.ProcessInput(msg); err != nil {
			s.logger.Debug("input dropped", "role", "initiator", "error", err)
		}
		return nil
	})

	ecfg, err := f.EndpointConfig()
	if err != nil {
		return err
	}
	ecfg.Logger = s.logger.With("role", "endpoint")
	ecfg.ProtocolLogger = s.opts.Capture
	s.umpOut = newBus("ump", transport.NewUMPPort, s.portConfig(0), s.logger.With("role", "endpoint"))
	s.guest, err = ump.NewEndpoint(ecfg, s.umpOut.Send)
	if err != nil {
		return err
	}
	s.guest.OnUpdate(s.endpointUpdated)
	s.umpOut.Handle(func(words []uint32) error {
		s.guestMu.Lock()
		defer s.guestMu.Unlock()
		if err := s.guest.ProcessInput(words); err != nil {
			s.logger.Debug("input dropped", "role", "endpoint", "error", err)
		}
		return nil
	})

	s.maint.Add("abandon-stale", func() error {
		s.initMu.Lock()
		defer s.initMu.Unlock()
		if n := s.initiator.AbandonStale(transport.DefaultTransactionTimeout); n > 0 {
			s.logger.Warn("abandoned stale property requests", "count", n)
			s.drain()
		}
		return nil
	})
	return nil
}

func (s *simulator) setupResponder(f *config.File) error {
	cfg, err := f.ResponderConfig()
	if err != nil {
		return err
	}
	cfg.Logger = s.logger.With("role", "responder")
	cfg.ProtocolLogger = s.opts.Capture
	if props, ok := cfg.Properties.(*property.MemoryService); ok {
		s.props = props
	}

	s.ciIn = newBus("ci", transport.NewSysExPort, s.portConfig(cfg.MaxSysExSize), s.logger.With("role", "responder"))
	s.responder, err = midici.NewResponder(cfg, s.ciIn.Send)
	if err != nil {
		return err
	}
	s.ciIn.Handle(func(msg []byte) error {
		s.respMu.Lock()
		defer s.respMu.Unlock()
		if err := s.responder.ProcessInput(msg); err != nil {
			s.logger.Debug("input dropped", "role", "responder", "error", err)
		}
		return nil
	})

	ecfg, err := f.EndpointConfig()
	if err != nil {
		return err
	}
	ecfg.Logger = s.logger.With("role", "endpoint-host")
	ecfg.ProtocolLogger = s.opts.Capture
	s.umpIn = newBus("ump", transport.NewUMPPort, s.portConfig(0), s.logger.With("role", "endpoint-host"))
	s.host, err = ump.NewEndpoint(ecfg, s.umpIn.Send)
	if err != nil {
		return err
	}
	s.umpIn.Handle(func(words []uint32) error {
		s.hostMu.Lock()
		defer s.hostMu.Unlock()
		if err := s.host.ProcessInput(words); err != nil {
			s.logger.Debug("input dropped", "role", "endpoint-host", "error", err)
		}
		return nil
	})

	s.maint.Add("notifications", func() error {
		s.respMu.Lock()
		defer s.respMu.Unlock()
		return s.responder.ProcessNotifications()
	})
	return nil
}

// Start runs periodic maintenance until ctx is cancelled.
func (s *simulator) Start(ctx context.Context) {
	s.maint.Start(ctx)
}

// Close stops maintenance and closes every port.
func (s *simulator) Close() {
	s.maint.Stop()
	if s.ciOut != nil {
		s.ciOut.Close()
		s.umpOut.Close()
	}
	if s.ciIn != nil {
		s.ciIn.Close()
		s.umpIn.Close()
	}
}

// Discover broadcasts MIDI-CI Discovery and, with a UMP port attached,
// Endpoint Discovery.
func (s *simulator) Discover() error {
	if s.initiator == nil {
		return fmt.Errorf("%w: initiator", interactive.ErrNoRole)
	}
	s.initMu.Lock()
	err := s.initiator.SendDiscovery()
	s.initMu.Unlock()
	if err != nil {
		return err
	}

	if s.umpOut.Peers() == 0 {
		return nil
	}
	s.guestMu.Lock()
	defer s.guestMu.Unlock()
	return s.guest.SendDiscovery()
}

// connectionChanged runs with initMu held.
func (s *simulator) connectionChanged(c midici.Connection) {
	prev, known := s.states[c.MUID]
	s.states[c.MUID] = c.State
	if known && prev == c.State {
		return
	}

	name := c.Device.ModelName
	if name == "" {
		name = fmt.Sprintf("%06X/%04X", c.Device.Manufacturer, c.Device.Model)
	}
	switch c.State {
	case midici.StateDiscovered:
		log.Printf("[CI] Discovered %s (%s)", c.MUID, name)
	case midici.StateNegotiating:
		log.Printf("[CI] Negotiating protocol with %s", c.MUID)
	case midici.StateActive:
		log.Printf("[CI] Connection %s active (protocol %s)", c.MUID, c.Protocol)
		for _, r := range s.opts.Get {
			s.queue = append(s.queue, queuedRequest{peer: c.MUID, kind: midici.RequestGet, resource: r})
		}
		for _, r := range s.opts.Subscribe {
			s.queue = append(s.queue, queuedRequest{peer: c.MUID, kind: midici.RequestSubscribe, resource: r})
		}
		s.drain()
	}
}

// drain issues queued requests until the peer's request limit is hit.
// It runs with initMu held.
func (s *simulator) drain() {
	for len(s.queue) > 0 {
		r := s.queue[0]
		var err error
		switch r.kind {
		case midici.RequestGet:
			_, err = s.initiator.GetProperty(r.peer, r.resource, "")
		case midici.RequestSubscribe:
			_, err = s.initiator.Subscribe(r.peer, r.resource)
		}
		if errors.Is(err, midici.ErrTooManyRequests) {
			return
		}
		if err != nil {
			log.Printf("[PE] %s %s to %s failed: %v", r.kind, r.resource, r.peer, err)
		}
		s.queue = s.queue[1:]
	}
}

// propertyResult runs with initMu held.
func (s *simulator) propertyResult(r midici.PropertyResult) {
	key := midici.ResourceKey(r.Resource, r.ResID)
	switch {
	case r.Err != nil:
		log.Printf("[PE] %s %s from %s failed: %v", r.Kind, key, r.Peer, r.Err)
	case !r.OK():
		log.Printf("[PE] %s %s from %s: status %d %s", r.Kind, key, r.Peer, r.Status, r.Header.Message)
	default:
		log.Printf("[PE] %s %s from %s: status %d %s", r.Kind, key, r.Peer, r.Status, preview(r.Body))
	}
	s.drain()
}

func (s *simulator) subscriptionUpdate(u midici.SubscriptionUpdate) {
	log.Printf("[SUB] %s %s (%s): %s", midici.ResourceKey(u.Resource, u.ResID), u.Command, u.SubscribeID, preview(u.Body))
}

// endpointUpdated runs with guestMu held.
func (s *simulator) endpointUpdated(t ump.TargetEndpoint) {
	log.Printf("[UMP] Endpoint %q: protocol %s, %d/%d function blocks", t.Name, t.Protocol, len(t.FunctionBlocks), t.NumFunctionBlocks)
}

func preview(body []byte) string {
	if len(body) > maxBodyPreview {
		return string(body[:maxBodyPreview]) + "..."
	}
	return string(body)
}

// Touch replaces a responder property body and notifies subscribers.
func (s *simulator) Touch(resource string, body []byte) error {
	if s.responder == nil {
		return fmt.Errorf("%w: responder", interactive.ErrNoRole)
	}
	if s.props == nil {
		return errNoProperties
	}
	var info *property.ResourceInfo
	for _, r := range s.props.Resources() {
		if r.Resource == resource {
			info = &r
			break
		}
	}
	if info == nil {
		return fmt.Errorf("%w: %s", property.ErrUnknownResource, resource)
	}

	s.respMu.Lock()
	defer s.respMu.Unlock()
	s.props.Add(*info, body)
	return s.responder.NotifyPropertyChanged(resource, "")
}

// Initiator controls for the interactive shell.

func (s *simulator) Peers() []midici.Connection {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initiator.Connections()
}

func (s *simulator) Get(peer muid.MUID, resource, resID string) (byte, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initiator.GetProperty(peer, resource, resID)
}

func (s *simulator) Set(peer muid.MUID, resource, resID string, body []byte) (byte, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initiator.SetProperty(peer, resource, resID, body)
}

func (s *simulator) Subscribe(peer muid.MUID, resource string) (byte, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initiator.Subscribe(peer, resource)
}

func (s *simulator) Unsubscribe(peer muid.MUID, resource string) (byte, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initiator.Unsubscribe(peer, resource)
}

func (s *simulator) RequestProfiles(peer muid.MUID) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initiator.RequestProfiles(peer)
}

func (s *simulator) SetProfile(peer muid.MUID, id profile.ID, enabled bool) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initiator.SetProfile(peer, id, enabled)
}

func (s *simulator) RequestProfileDetails(peer muid.MUID, id profile.ID, target byte) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initiator.RequestProfileDetails(peer, id, target)
}

func (s *simulator) TargetEndpoint() (ump.TargetEndpoint, ump.State) {
	s.guestMu.Lock()
	defer s.guestMu.Unlock()
	return s.guest.TargetEndpoint(), s.guest.State()
}

// Responder controls for the interactive shell.

func (s *simulator) LocalProfiles() []profile.Entry {
	s.respMu.Lock()
	defer s.respMu.Unlock()
	return s.responder.Profiles()
}

func (s *simulator) EnableProfile(id profile.ID) error {
	s.respMu.Lock()
	defer s.respMu.Unlock()
	return s.responder.EnableProfile(id)
}

func (s *simulator) DisableProfile(id profile.ID) error {
	s.respMu.Lock()
	defer s.respMu.Unlock()
	return s.responder.DisableProfile(id)
}

func (s *simulator) Subscriptions() []subscription.Info {
	s.respMu.Lock()
	defer s.respMu.Unlock()
	return s.responder.Subscriptions()
}

// controls returns the shell views of the running roles; a missing role
// is a nil interface.
func (s *simulator) controls() (interactive.Initiator, interactive.Responder) {
	var (
		i interactive.Initiator
		r interactive.Responder
	)
	if s.initiator != nil {
		i = s
	}
	if s.responder != nil {
		r = s
	}
	return i, r
}
