package midici

import (
	"errors"
	"fmt"

	"github.com/midici-protocol/midici-go/pkg/log"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/protocol"
	"github.com/midici-protocol/midici-go/pkg/subscription"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

// Responder answers MIDI-CI inquiries on behalf of a device: discovery,
// protocol negotiation, profiles and property exchange.
//
// Responder is not safe for concurrent use; see Initiator.
type Responder struct {
	*node
	config ResponderConfig

	profiles   *profile.Set
	profileSvc profile.Service
	props      property.Service

	subs     *subscription.Manager
	requests *property.Accumulator

	// negotiation state per initiator
	proposed   map[muid.MUID]protocol.TypeInfo
	negotiated map[muid.MUID]protocol.TypeInfo

	// largest SysEx each initiator announced in Discovery
	peerSizes map[muid.MUID]uint32

	nextRequestID byte
	sendErr       error
}

// NewResponder creates a responder that sends through send.
func NewResponder(config ResponderConfig, send Sender) (*Responder, error) {
	r := &Responder{
		config:     config,
		profiles:   profile.NewSet(),
		proposed:   make(map[muid.MUID]protocol.TypeInfo),
		negotiated: make(map[muid.MUID]protocol.TypeInfo),
		peerSizes:  make(map[muid.MUID]uint32),
	}
	n, err := newNode(&r.config.Config, log.RoleResponder, send)
	if err != nil {
		return nil, err
	}
	r.node = n
	r.requests = property.NewAccumulator(n.now)

	if config.Profiles != nil {
		r.profileSvc = config.Profiles
		for _, e := range config.Profiles.Profiles() {
			r.profiles.Add(e)
		}
	}
	r.props = property.NewStandardResources(config.Properties, config.Device.Body())

	subCfg := config.Subscriptions
	if subCfg.Clock == nil {
		subCfg.Clock = n.now
	}
	r.subs = subscription.NewManagerWithConfig(subCfg)
	r.subs.OnNotification(r.sendNotification)

	n.muids.OnInvalidate(r.forget)
	return r, nil
}

// MUID returns the local MUID.
func (r *Responder) MUID() muid.MUID {
	return r.own()
}

// Profiles returns the local profile table.
func (r *Responder) Profiles() []profile.Entry {
	return r.profiles.Entries()
}

// Subscriptions lists active property subscriptions.
func (r *Responder) Subscriptions() []subscription.Info {
	return r.subs.List()
}

// Protocol returns the protocol negotiated with an initiator.
func (r *Responder) Protocol(peer muid.MUID) (protocol.TypeInfo, bool) {
	p, ok := r.negotiated[peer]
	return p, ok
}

// forget is the registry invalidate hook.
func (r *Responder) forget(m muid.MUID) {
	delete(r.proposed, m)
	delete(r.negotiated, m)
	delete(r.peerSizes, m)
	r.requests.AbortPeer(m)
	if n := r.subs.RemovePeer(m); n > 0 {
		r.logger.Debug("subscriptions removed", "peer", m, "count", n)
	}
	r.stateChange(log.StateEntityConnection, m, "", "INVALIDATED", "MUID invalidated")
}

// ProcessInput handles one SysEx message from the transport.
func (r *Responder) ProcessInput(data []byte) error {
	msg, err := r.receive(data)
	if err != nil {
		return err
	}
	h := msg.MessageHeader()

	if d, ok := msg.(*wire.Discovery); ok {
		return r.handleDiscovery(d)
	}
	if h.Source == r.own() || !r.addressed(h) {
		return nil
	}

	switch m := msg.(type) {
	case *wire.InvalidateMUID:
		return r.handleInvalidate(m)
	case *wire.ProtocolNegotiation:
		if m.SubID == wire.SubIDProtocolNegotiation {
			return r.handleNegotiation(m)
		}
	case *wire.SetNewProtocol:
		return r.handleSetProtocol(m)
	case *wire.TestNewProtocol:
		if m.SubID == wire.SubIDTestNewProtocolIR {
			return r.handleTest(m)
		}
	case *wire.ConfirmNewProtocol:
		return r.handleConfirm(m)
	case *wire.ProfileInquiry:
		return r.handleProfileInquiry(m)
	case *wire.ProfileMessage:
		return r.handleSetProfile(m)
	case *wire.ProfileDetailsInquiry:
		return r.handleProfileDetails(m)
	case *wire.PropertyCapabilities:
		if m.SubID == wire.SubIDPropertyCapabilities {
			return r.handleCapabilities(m)
		}
	case *wire.PropertyChunk:
		return r.handleProperty(m)
	}
	return nil
}

func (r *Responder) nak(h wire.Header, code byte, text string) error {
	return r.emit(&wire.NAK{
		Header:        r.header(wire.SubIDNAK, h.Source),
		OriginalSubID: h.SubID,
		StatusCode:    code,
		Text:          text,
	})
}

func (r *Responder) handleDiscovery(m *wire.Discovery) error {
	if m.Source == r.own() {
		old, err := r.muids.Regenerate()
		if err != nil {
			return err
		}
		r.logger.Warn("MUID collision", "old", old, "new", r.own())
		r.stateChange(log.StateEntityMUID, m.Source, old.String(), r.own().String(), "MUID collision")
		if err := r.emit(&wire.InvalidateMUID{
			Header: r.header(wire.SubIDInvalidateMUID, muid.Broadcast),
			Target: old,
		}); err != nil {
			return err
		}
	}

	if err := r.muids.RegisterPeer(m.Source, m.Identity); err != nil {
		// A different device reusing the MUID replaces the old one.
		if errors.Is(err, muid.ErrCollision) {
			r.muids.Invalidate(m.Source)
			err = r.muids.RegisterPeer(m.Source, m.Identity)
		}
		if err != nil {
			r.logger.Warn("discovery from invalid MUID", "source", m.Source, "error", err)
			return err
		}
	}
	r.peerSizes[m.Source] = m.MaxSysExSize

	return r.emit(&wire.DiscoveryReply{
		Header:        r.header(wire.SubIDDiscoveryReply, m.Source),
		Identity:      r.config.Device.Identity(),
		Category:      r.config.Category,
		MaxSysExSize:  r.config.MaxSysExSize,
		OutputPathID:  m.OutputPathID,
		FunctionBlock: wire.DeviceIDFunctionBlock,
	})
}

func (r *Responder) handleInvalidate(m *wire.InvalidateMUID) error {
	if m.Target == r.own() {
		old, err := r.muids.Regenerate()
		if err != nil {
			return err
		}
		r.stateChange(log.StateEntityMUID, m.Source, old.String(), r.own().String(), "invalidated by peer")
		return nil
	}
	r.muids.Invalidate(m.Target)
	return nil
}

// Protocol negotiation

func (r *Responder) handleNegotiation(m *wire.ProtocolNegotiation) error {
	if !r.config.Category.Has(wire.CategoryProtocolNegotiation) {
		return r.nak(m.Header, wire.NAKStatusUnsupported, "protocol negotiation not supported")
	}
	accepted := protocol.Accept(m.Protocols, r.config.Protocols)
	r.logger.Debug("protocol inquiry", "peer", m.Source, "proposed", len(m.Protocols), "accepted", len(accepted))
	return r.emit(&wire.ProtocolNegotiation{
		Header:    r.header(wire.SubIDProtocolNegotiationReply, m.Source),
		Protocols: accepted,
	})
}

func (r *Responder) handleSetProtocol(m *wire.SetNewProtocol) error {
	if !protocol.Contains(r.config.Protocols, m.Protocol) {
		return r.nak(m.Header, wire.NAKStatusUnsupported, "protocol not supported")
	}
	r.proposed[m.Source] = m.Protocol
	return nil
}

func (r *Responder) handleTest(m *wire.TestNewProtocol) error {
	if _, ok := r.proposed[m.Source]; !ok {
		return r.nak(m.Header, wire.NAKStatusNAK, "no protocol pending")
	}
	if m.TestData != wire.NewTestData() {
		delete(r.proposed, m.Source)
		return r.nak(m.Header, wire.NAKStatusMalformed, "test data mismatch")
	}
	return r.emit(&wire.TestNewProtocol{
		Header:   r.header(wire.SubIDTestNewProtocolRI, m.Source),
		TestData: m.TestData,
	})
}

func (r *Responder) handleConfirm(m *wire.ConfirmNewProtocol) error {
	p, ok := r.proposed[m.Source]
	if !ok {
		return nil
	}
	delete(r.proposed, m.Source)
	old, had := r.negotiated[m.Source]
	r.negotiated[m.Source] = p
	from := ""
	if had {
		from = old.String()
	}
	r.stateChange(log.StateEntityConnection, m.Source, from, p.String(), "protocol confirmed")
	return nil
}

// Profiles

func (r *Responder) handleProfileInquiry(m *wire.ProfileInquiry) error {
	target := profileTarget(m.DeviceID)
	reply := &wire.ProfileInquiryReply{
		Header:   r.header(wire.SubIDProfileInquiryReply, m.Source),
		Enabled:  r.profiles.Enabled(target),
		Disabled: r.profiles.Disabled(target),
	}
	reply.DeviceID = m.DeviceID
	return r.emit(reply)
}

func (r *Responder) handleSetProfile(m *wire.ProfileMessage) error {
	var enable bool
	switch m.SubID {
	case wire.SubIDSetProfileOn:
		enable = true
	case wire.SubIDSetProfileOff:
	default:
		return nil
	}
	target := profileTarget(m.DeviceID)
	if err := r.profiles.SetEnabled(m.Profile, target, enable); err != nil {
		r.logger.Warn("set profile rejected", "peer", m.Source, "profile", m.Profile, "error", err)
		return errors.Join(err, r.nak(m.Header, wire.NAKStatusTargetNotFound, "unknown profile"))
	}
	return r.report(m.DeviceID, m.Profile, enable)
}

// report broadcasts a profile enabled or disabled report.
func (r *Responder) report(deviceID byte, id profile.ID, enabled bool) error {
	sub := wire.SubIDProfileDisabledReport
	if enabled {
		sub = wire.SubIDProfileEnabledReport
	}
	msg := &wire.ProfileMessage{
		Header:  r.header(sub, muid.Broadcast),
		Profile: id,
	}
	msg.DeviceID = deviceID
	return r.emit(msg)
}

// EnableProfile enables a port-wide profile and broadcasts a report.
func (r *Responder) EnableProfile(id profile.ID) error {
	return r.setProfile(id, true)
}

// DisableProfile disables a port-wide profile and broadcasts a report.
func (r *Responder) DisableProfile(id profile.ID) error {
	return r.setProfile(id, false)
}

func (r *Responder) setProfile(id profile.ID, enabled bool) error {
	if err := r.profiles.SetEnabled(id, profile.TargetPort, enabled); err != nil {
		return err
	}
	return r.report(wire.DeviceIDFunctionBlock, id, enabled)
}

func (r *Responder) handleProfileDetails(m *wire.ProfileDetailsInquiry) error {
	target := profileTarget(m.DeviceID)
	if !r.profiles.Contains(m.Profile, target) || r.profileSvc == nil {
		return r.nak(m.Header, wire.NAKStatusTargetNotFound, "unknown profile")
	}
	data, err := r.profileSvc.Details(m.Profile, m.Target)
	if err != nil {
		return errors.Join(err, r.nak(m.Header, wire.NAKStatusTargetNotFound, "no profile details"))
	}
	reply := &wire.ProfileDetailsReply{
		Header:  r.header(wire.SubIDProfileDetailsReply, m.Source),
		Profile: m.Profile,
		Target:  m.Target,
		Data:    data,
	}
	reply.DeviceID = m.DeviceID
	return r.emit(reply)
}

// Property exchange

func (r *Responder) handleCapabilities(m *wire.PropertyCapabilities) error {
	if !r.config.Category.Has(wire.CategoryPropertyExchange) {
		return r.nak(m.Header, wire.NAKStatusUnsupported, "property exchange not supported")
	}
	return r.emit(&wire.PropertyCapabilities{
		Header:                  r.header(wire.SubIDPropertyCapabilitiesReply, m.Source),
		MaxSimultaneousRequests: r.config.MaxSimultaneousRequests,
	})
}

func (r *Responder) peerMax(m muid.MUID) uint32 {
	return r.peerSizes[m]
}

func (r *Responder) handleProperty(m *wire.PropertyChunk) error {
	key := property.Key{Peer: m.Source, RequestID: m.RequestID}

	switch m.SubID {
	case wire.SubIDPropertyNotify:
		r.requests.Abort(key)
		return nil
	case wire.SubIDSubscriptionReply:
		// Acknowledgement of a subscription message we sent.
		return nil
	case wire.SubIDGetPropertyData, wire.SubIDSetPropertyData, wire.SubIDSubscription:
	default:
		return nil
	}

	res, err := r.requests.Add(key, chunkOf(m))
	if err != nil {
		r.logger.Debug("chunk rejected", "peer", m.Source, "request_id", m.RequestID, "error", err)
		return err
	}
	if res == nil {
		return nil
	}

	h, body, err := res.Decode(r.codec)
	if err != nil {
		r.captureError(m.Source, m.SubID.String(), err)
		return errors.Join(err, r.replyStatus(m, property.StatusOf(err), err.Error()))
	}

	switch m.SubID {
	case wire.SubIDGetPropertyData:
		return r.serveGet(m, h)
	case wire.SubIDSetPropertyData:
		return r.serveSet(m, h, body)
	default:
		return r.serveSubscription(m, h)
	}
}

func replySubID(sub wire.SubID) wire.SubID {
	return sub + 1
}

// replyStatus sends a body-less reply carrying only a status.
func (r *Responder) replyStatus(m *wire.PropertyChunk, status int, text string) error {
	return r.sendChunks(replySubID(m.SubID), m.Source, m.RequestID,
		property.Header{Status: status, Message: text}, nil, r.peerMax(m.Source))
}

func (r *Responder) serveGet(m *wire.PropertyChunk, h property.Header) error {
	body, err := r.props.Get(h.Resource, h.ResID)
	if err != nil {
		r.logger.Debug("property get failed", "resource", h.Resource, "error", err)
		return r.replyStatus(m, property.StatusOf(err), err.Error())
	}
	enc := chooseEncoding(h.MutualEncoding, r.config.EnableCompression, body)
	reply := property.Header{
		Status:         property.StatusOK,
		MutualEncoding: wireEncoding(enc),
	}
	return r.sendChunks(wire.SubIDGetPropertyDataReply, m.Source, m.RequestID, reply, body, r.peerMax(m.Source))
}

func (r *Responder) serveSet(m *wire.PropertyChunk, h property.Header, body []byte) error {
	if h.MutualEncoding.Compressed() && !r.config.EnableCompression {
		return r.replyStatus(m, property.StatusUnsupportedEncode, "compression disabled")
	}
	if err := r.props.Set(h.Resource, h.ResID, body); err != nil {
		r.logger.Debug("property set failed", "resource", h.Resource, "error", err)
		return r.replyStatus(m, property.StatusOf(err), err.Error())
	}
	if err := r.replyStatus(m, property.StatusOK, ""); err != nil {
		return err
	}
	return r.NotifyPropertyChanged(h.Resource, h.ResID)
}

func (r *Responder) serveSubscription(m *wire.PropertyChunk, h property.Header) error {
	switch h.Command {
	case property.CommandStart:
		current, err := r.props.Get(h.Resource, h.ResID)
		if err != nil {
			return r.replyStatus(m, property.StatusOf(err), err.Error())
		}
		id, err := r.subs.Subscribe(m.Source, h.Resource, h.ResID, current)
		if err != nil {
			return r.replyStatus(m, property.StatusInternalError, err.Error())
		}
		return r.sendChunks(wire.SubIDSubscriptionReply, m.Source, m.RequestID,
			property.Header{Status: property.StatusOK, SubscribeID: id}, nil, r.peerMax(m.Source))
	case property.CommandEnd:
		if err := r.subs.Unsubscribe(h.SubscribeID); err != nil {
			return r.replyStatus(m, property.StatusNotFound, err.Error())
		}
		return r.replyStatus(m, property.StatusOK, "")
	default:
		return r.replyStatus(m, property.StatusBadRequest, fmt.Sprintf("unsupported command %q", h.Command))
	}
}

// NotifyPropertyChanged tells subscribers of resource that it changed.
// Notifications are sent right away unless the subscription manager
// coalesces them; ProcessNotifications flushes coalesced ones.
func (r *Responder) NotifyPropertyChanged(resource, resID string) error {
	body, err := r.props.Get(resource, resID)
	if err != nil {
		return err
	}
	r.subs.NotifyChange(resource, resID, body)
	return r.ProcessNotifications()
}

// ProcessNotifications sends pending subscription messages whose
// coalescing window has passed.
func (r *Responder) ProcessNotifications() error {
	r.sendErr = nil
	r.subs.ProcessNotifications()
	err := r.sendErr
	r.sendErr = nil
	return err
}

// sendNotification is the subscription manager callback.
func (r *Responder) sendNotification(n subscription.Notification) {
	id := r.nextRequestID
	r.nextRequestID = (r.nextRequestID + 1) & 0x7F

	enc := chooseEncoding("", false, n.Body)
	h := property.Header{
		Resource:       n.Resource,
		ResID:          n.ResID,
		Command:        property.CommandFull,
		SubscribeID:    n.SubscriptionID,
		MutualEncoding: wireEncoding(enc),
	}
	if err := r.sendChunks(wire.SubIDSubscription, n.Peer, id, h, n.Body, r.peerMax(n.Peer)); err != nil {
		r.logger.Warn("subscription update failed", "peer", n.Peer, "subscription", n.SubscriptionID, "error", err)
		r.sendErr = errors.Join(r.sendErr, err)
	}
}
