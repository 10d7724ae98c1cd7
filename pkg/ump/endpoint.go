package ump

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/midici-protocol/midici-go/pkg/log"
	"github.com/midici-protocol/midici-go/pkg/protocol"
	"github.com/midici-protocol/midici-go/pkg/version"
)

// Sender transmits UMP words to the transport.
type Sender func(words []uint32) error

// Config configures an Endpoint.
type Config struct {
	Endpoint EndpointConfiguration

	// UMPVersion is the version announced in discovery. Zero selects
	// version.UMP.
	UMPVersion version.SpecVersion

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events. Nil disables capture.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a configuration preferring MIDI 2.0 with protocol
// negotiation and function block discovery enabled.
func DefaultConfig() Config {
	return Config{
		Endpoint: EndpointConfiguration{
			Protocols: slices.Clone(protocol.Midi2ThenMidi1),
			Stream: StreamConfiguration{
				ProtocolNegotiation: true,
				FunctionBlocks:      true,
			},
		},
		UMPVersion: version.UMP,
	}
}

// Endpoint runs UMP Endpoint Discovery in both roles: it answers discovery
// from a peer and mirrors the peer it discovers.
//
// Endpoint is not safe for concurrent use; the owner serializes calls to
// ProcessInput and the request methods.
type Endpoint struct {
	config Config
	local  EndpointConfiguration
	send   Sender
	logger *slog.Logger
	rec    *log.Recorder
	dec    *Decoder

	state    State
	target   TargetEndpoint
	protocol protocol.TypeInfo

	// block names that arrived before their info, by block number
	names map[byte]string

	onUpdate func(TargetEndpoint)
}

// NewEndpoint creates an endpoint that sends through send.
func NewEndpoint(config Config, send Sender) (*Endpoint, error) {
	if send == nil {
		return nil, fmt.Errorf("%w: nil sender", ErrInvalidConfig)
	}
	if err := config.Endpoint.Validate(); err != nil {
		return nil, err
	}
	if config.UMPVersion == (version.SpecVersion{}) {
		config.UMPVersion = version.UMP
	}
	e := &Endpoint{
		config: config,
		local:  config.Endpoint.clone(),
		send:   send,
		dec:    NewDecoder(),
		names:  make(map[byte]string),
	}
	for i := range e.local.FunctionBlocks {
		e.local.FunctionBlocks[i].Number = byte(i)
	}

	e.logger = config.Logger
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	e.logger = e.logger.With("role", log.RoleEndpoint.String())
	if e.local.ID != "" {
		e.logger = e.logger.With("endpoint", e.local.ID)
	}
	if config.ProtocolLogger != nil {
		e.rec = log.NewRecorder(config.ProtocolLogger, log.RoleEndpoint)
	}

	e.protocol = e.local.Protocols[0]
	if protocol.Contains(e.local.Protocols, protocol.Midi1) {
		e.protocol = protocol.Midi1
	}
	return e, nil
}

// Configuration returns a copy of the local configuration.
func (e *Endpoint) Configuration() EndpointConfiguration {
	return e.local.clone()
}

// State returns the discovery state.
func (e *Endpoint) State() State {
	return e.state
}

// Protocol returns the local stream protocol.
func (e *Endpoint) Protocol() protocol.TypeInfo {
	return e.protocol
}

// TargetEndpoint returns a copy of the discovered peer.
func (e *Endpoint) TargetEndpoint() TargetEndpoint {
	return e.target.clone()
}

// OnUpdate sets the callback invoked whenever the mirrored peer changes.
func (e *Endpoint) OnUpdate(fn func(TargetEndpoint)) {
	e.onUpdate = fn
}

// AddFunctionBlock appends a block and returns its number.
func (e *Endpoint) AddFunctionBlock(fb FunctionBlock) (byte, error) {
	if e.local.Static {
		return 0, ErrStaticBlocks
	}
	if len(e.local.FunctionBlocks) >= MaxFunctionBlocks {
		return 0, fmt.Errorf("%w: limit is %d", ErrTooManyBlocks, MaxFunctionBlocks)
	}
	if err := fb.Validate(); err != nil {
		return 0, err
	}
	if e.blockIndex(fb.GroupIndex) >= 0 {
		return 0, fmt.Errorf("%w: group %d already starts a block", ErrInvalidBlock, fb.GroupIndex)
	}
	fb.Number = byte(len(e.local.FunctionBlocks))
	e.local.FunctionBlocks = append(e.local.FunctionBlocks, fb)
	e.logger.Debug("function block added", "number", fb.Number, "name", fb.Name, "group", fb.GroupIndex)
	return fb.Number, nil
}

// RemoveFunctionBlock removes the block starting at group. Later blocks
// are renumbered.
func (e *Endpoint) RemoveFunctionBlock(group byte) error {
	if e.local.Static {
		return ErrStaticBlocks
	}
	i := e.blockIndex(group)
	if i < 0 {
		return fmt.Errorf("%w: group %d", ErrUnknownBlock, group)
	}
	e.local.FunctionBlocks = slices.Delete(e.local.FunctionBlocks, i, i+1)
	for j := i; j < len(e.local.FunctionBlocks); j++ {
		e.local.FunctionBlocks[j].Number = byte(j)
	}
	return nil
}

// SetFunctionBlockActive changes the active flag of the block starting at
// group and sends its Function Block Info to the peer.
func (e *Endpoint) SetFunctionBlockActive(group byte, active bool) error {
	i := e.blockIndex(group)
	if i < 0 {
		return fmt.Errorf("%w: group %d", ErrUnknownBlock, group)
	}
	e.local.FunctionBlocks[i].Active = active
	return e.emit(FunctionBlockInfo{Block: e.local.FunctionBlocks[i]})
}

func (e *Endpoint) blockIndex(group byte) int {
	return slices.IndexFunc(e.local.FunctionBlocks, func(fb FunctionBlock) bool {
		return fb.GroupIndex == group
	})
}

// SendDiscovery clears the mirrored peer and asks for everything it
// describes about itself.
func (e *Endpoint) SendDiscovery() error {
	e.target = TargetEndpoint{}
	clear(e.names)
	e.dec.Reset()
	e.setState(StateDiscovering, "discovery sent")
	return e.emit(EndpointDiscovery{
		VersionMajor: e.config.UMPVersion.Major,
		VersionMinor: e.config.UMPVersion.Minor,
		Filter:       FilterAll,
	})
}

// RequestFunctionBlocks asks the peer for info and name of every block.
func (e *Endpoint) RequestFunctionBlocks() error {
	return e.emit(FunctionBlockDiscovery{Block: AllBlocks, Filter: FilterBlockInfo | FilterBlockName})
}

// RequestProtocol asks the peer to switch the stream to p.
func (e *Endpoint) RequestProtocol(p protocol.TypeInfo) error {
	if !protocol.Contains(e.local.Protocols, p) {
		return fmt.Errorf("%w: %s not configured", ErrProtocolMismatch, p)
	}
	return e.emit(StreamConfig{
		Protocol:   byte(p.Type),
		ReceiveJR:  e.local.Stream.ReceiveJR && e.target.TransmitJR,
		TransmitJR: e.local.Stream.TransmitJR && e.target.ReceiveJR,
	})
}

// ProcessInput handles UMP words from the transport. Packets that are not
// stream messages are ignored. Every stream packet is processed; the
// returned error joins the reasons packets were dropped.
func (e *Endpoint) ProcessInput(words []uint32) error {
	packets, err := Split(words)
	errs := []error{err}
	for _, p := range packets {
		e.captureFrame(log.DirectionIn, p)
		msg, err := e.dec.Decode(p)
		if err != nil {
			e.logger.Warn("dropping stream packet", "status", p.Status().String(), "error", err)
			e.captureError(p.Status().String(), err)
			errs = append(errs, err)
			continue
		}
		if msg == nil {
			continue
		}
		e.captureMessage(log.DirectionIn, msg, p.Format())
		e.logger.Debug("stream message received", "status", msg.Status().String())
		if err := e.handle(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Endpoint) handle(msg Message) error {
	switch m := msg.(type) {
	case EndpointDiscovery:
		return e.handleDiscovery(m)
	case EndpointInfo:
		return e.handleInfo(m)
	case DeviceIdentityMessage:
		e.target.Identity = m.Identity
	case EndpointName:
		e.target.Name = m.Name
	case ProductInstanceID:
		e.target.ProductInstanceID = m.ID
	case StreamConfig:
		if !m.Notify {
			return e.handleStreamRequest(m)
		}
		e.handleStreamNotify(m)
	case FunctionBlockDiscovery:
		return e.handleBlockDiscovery(m)
	case FunctionBlockInfo:
		e.handleBlockInfo(m.Block)
	case FunctionBlockName:
		e.handleBlockName(m)
	default:
		return nil
	}
	e.notify()
	return nil
}

// responder side

func (e *Endpoint) handleDiscovery(m EndpointDiscovery) error {
	peer := version.SpecVersion{Major: m.VersionMajor, Minor: m.VersionMinor}
	if !peer.Compatible(e.config.UMPVersion) {
		e.logger.Warn("endpoint discovery from incompatible UMP version", "peer", peer.String())
	}

	var out []Message
	if m.Filter&FilterEndpointInfo != 0 {
		out = append(out, EndpointInfo{
			VersionMajor: e.config.UMPVersion.Major,
			VersionMinor: e.config.UMPVersion.Minor,
			StaticBlocks: e.local.Static,
			NumBlocks:    byte(len(e.local.FunctionBlocks)),
			MIDI2:        e.local.supports(protocol.TypeMidi2),
			MIDI1:        e.local.supports(protocol.TypeMidi1),
			ReceiveJR:    e.local.Stream.ReceiveJR,
			TransmitJR:   e.local.Stream.TransmitJR,
		})
	}
	if m.Filter&FilterDeviceIdentity != 0 {
		out = append(out, DeviceIdentityMessage{Identity: e.local.Identity})
	}
	if m.Filter&FilterEndpointName != 0 && e.local.Name != "" {
		out = append(out, EndpointName{Name: e.local.Name})
	}
	if m.Filter&FilterProductInstanceID != 0 && e.local.ProductInstanceID != "" {
		out = append(out, ProductInstanceID{ID: e.local.ProductInstanceID})
	}
	if m.Filter&FilterStreamConfig != 0 {
		out = append(out, e.streamNotification())
	}
	for _, msg := range out {
		if err := e.emit(msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Endpoint) streamNotification() StreamConfig {
	return StreamConfig{
		Notify:     true,
		Protocol:   byte(e.protocol.Type),
		ReceiveJR:  e.local.Stream.ReceiveJR,
		TransmitJR: e.local.Stream.TransmitJR,
	}
}

func (e *Endpoint) handleStreamRequest(m StreamConfig) error {
	want := protocol.TypeInfo{Type: protocol.Type(m.Protocol)}
	if e.local.supports(want.Type) {
		if !e.protocol.Matches(want) {
			e.stateChange(e.protocol.Type.String(), want.Type.String(), "stream configuration request")
		}
		e.protocol = want
	} else {
		e.logger.Warn("stream protocol not supported", "protocol", want.Type.String())
	}
	return e.emit(e.streamNotification())
}

func (e *Endpoint) handleBlockDiscovery(m FunctionBlockDiscovery) error {
	for _, fb := range e.local.FunctionBlocks {
		if m.Block != AllBlocks && m.Block != fb.Number {
			continue
		}
		if !fb.Active {
			continue
		}
		if m.Filter&FilterBlockInfo != 0 {
			if err := e.emit(FunctionBlockInfo{Block: fb}); err != nil {
				return err
			}
		}
		if m.Filter&FilterBlockName != 0 && fb.Name != "" {
			if err := e.emit(FunctionBlockName{Number: fb.Number, Name: fb.Name}); err != nil {
				return err
			}
		}
	}
	return nil
}

// discovering side

// handleInfo mirrors the target's Endpoint Info. UMP carries no capability
// flags in Endpoint Discovery, so the discovering side asks for function
// blocks itself when its own configuration enables block discovery.
func (e *Endpoint) handleInfo(m EndpointInfo) error {
	peer := version.SpecVersion{Major: m.VersionMajor, Minor: m.VersionMinor}
	if !peer.Compatible(e.config.UMPVersion) {
		return fmt.Errorf("%w: peer speaks %s, local %s", ErrIncompatibleMajor, peer, e.config.UMPVersion)
	}
	e.target.UMPVersion = peer
	e.target.Static = m.StaticBlocks
	e.target.NumFunctionBlocks = int(m.NumBlocks)
	e.target.MIDI1 = m.MIDI1
	e.target.MIDI2 = m.MIDI2
	e.target.ReceiveJR = m.ReceiveJR
	e.target.TransmitJR = m.TransmitJR
	e.setState(StateDiscovered, "endpoint info received")
	e.notify()

	if e.local.Stream.FunctionBlocks && m.NumBlocks > 0 {
		if err := e.RequestFunctionBlocks(); err != nil {
			return err
		}
	}
	if e.local.Stream.ProtocolNegotiation {
		p, ok := protocol.Select(e.local.Protocols, e.target.Offered())
		if !ok {
			return fmt.Errorf("%w: peer offers %d protocols", ErrProtocolMismatch, len(e.target.Offered()))
		}
		return e.RequestProtocol(p)
	}
	return nil
}

func (e *Endpoint) handleStreamNotify(m StreamConfig) {
	p := protocol.TypeInfo{Type: protocol.Type(m.Protocol)}
	e.target.Protocol = p
	e.target.ReceiveJR = m.ReceiveJR
	e.target.TransmitJR = m.TransmitJR
	if e.local.supports(p.Type) && !e.protocol.Matches(p) {
		e.stateChange(e.protocol.Type.String(), p.Type.String(), "stream configuration notification")
		e.protocol = p
	}
}

// handleBlockInfo mirrors a block. A report for a group index already
// known replaces the record in place; a block number that moved to a new
// group drops its old record.
func (e *Endpoint) handleBlockInfo(fb FunctionBlock) {
	blocks := e.target.FunctionBlocks
	if name, ok := e.names[fb.Number]; ok {
		fb.Name = name
		delete(e.names, fb.Number)
	}

	idx := -1
	for i, old := range blocks {
		if old.GroupIndex == fb.GroupIndex {
			idx = i
			if fb.Name == "" && old.Number == fb.Number {
				fb.Name = old.Name
			}
		}
	}
	if idx >= 0 {
		blocks[idx] = fb
	} else {
		blocks = append(blocks, fb)
	}
	e.target.FunctionBlocks = slices.DeleteFunc(blocks, func(old FunctionBlock) bool {
		return old.Number == fb.Number && old.GroupIndex != fb.GroupIndex
	})
}

func (e *Endpoint) handleBlockName(m FunctionBlockName) {
	for i := range e.target.FunctionBlocks {
		if e.target.FunctionBlocks[i].Number == m.Number {
			e.target.FunctionBlocks[i].Name = m.Name
			return
		}
	}
	e.names[m.Number] = m.Name
}

func (e *Endpoint) notify() {
	if e.onUpdate != nil {
		e.onUpdate(e.target.clone())
	}
}

func (e *Endpoint) setState(s State, reason string) {
	if s == e.state {
		return
	}
	old := e.state
	e.state = s
	e.stateChange(old.String(), s.String(), reason)
}

// emit encodes and sends msg, one packet per send.
func (e *Endpoint) emit(msg Message) error {
	packets, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Status(), err)
	}
	e.logger.Debug("stream message sent", "status", msg.Status().String(), "packets", len(packets))
	for _, p := range packets {
		e.captureFrame(log.DirectionOut, p)
	}
	e.captureMessage(log.DirectionOut, msg, packets[len(packets)-1].Format())
	for _, p := range packets {
		if err := e.send(p[:]); err != nil {
			return fmt.Errorf("send %s: %w", msg.Status(), err)
		}
	}
	return nil
}

// protocol capture

func (e *Endpoint) captureFrame(dir log.Direction, p Packet) {
	if !e.rec.Enabled() {
		return
	}
	e.rec.Log(log.Event{
		Direction: dir,
		Layer:     log.LayerUMP,
		Frame:     &log.FrameEvent{Size: len(p), Words: slices.Clone(p[:])},
	})
}

func (e *Endpoint) captureMessage(dir log.Direction, msg Message, f Format) {
	if !e.rec.Enabled() {
		return
	}
	e.rec.Log(log.Event{
		Direction: dir,
		Layer:     log.LayerUMP,
		Stream: &log.StreamEvent{
			Status: uint16(msg.Status()),
			Name:   msg.Status().String(),
			Form:   uint8(f),
		},
	})
}

func (e *Endpoint) stateChange(oldState, newState, reason string) {
	e.logger.Info("state change", "entity", log.StateEntityEndpoint.String(), "from", oldState, "to", newState, "reason", reason)
	if !e.rec.Enabled() {
		return
	}
	e.rec.Log(log.Event{
		Layer:    log.LayerUMP,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityEndpoint,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (e *Endpoint) captureError(context string, err error) {
	if !e.rec.Enabled() {
		return
	}
	e.rec.Log(log.Event{
		Layer:    log.LayerUMP,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerUMP,
			Message: err.Error(),
			Context: context,
		},
	})
}
