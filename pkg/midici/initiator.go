package midici

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/midici-protocol/midici-go/pkg/log"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/protocol"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

// request is an outstanding property request.
type request struct {
	kind     RequestKind
	resource string
	resID    string
	started  time.Time
}

// Initiator discovers MIDI-CI responders and drives protocol negotiation,
// profile configuration and property exchange with them.
//
// Initiator is not safe for concurrent use. The owner serializes calls to
// ProcessInput and the request methods, typically from one transport
// goroutine. The Sender may feed a peer synchronously.
type Initiator struct {
	*node
	config InitiatorConfig

	state InitiatorState
	conns map[muid.MUID]*conn

	// replies reassembles responder replies; updates reassembles
	// subscription messages the responder originates.
	replies *property.Accumulator
	updates *property.Accumulator

	pending       map[property.Key]*request
	nextRequestID byte

	onConnection   func(Connection)
	onProperty     func(PropertyResult)
	onSubscription func(SubscriptionUpdate)
	onNAK          func(muid.MUID, *wire.NAK)
}

// NewInitiator creates an initiator that sends through send.
func NewInitiator(config InitiatorConfig, send Sender) (*Initiator, error) {
	i := &Initiator{
		config:  config,
		conns:   make(map[muid.MUID]*conn),
		pending: make(map[property.Key]*request),
	}
	n, err := newNode(&i.config.Config, log.RoleInitiator, send)
	if err != nil {
		return nil, err
	}
	i.node = n
	i.replies = property.NewAccumulator(n.now)
	i.updates = property.NewAccumulator(n.now)
	n.muids.OnInvalidate(i.dropPeer)
	return i, nil
}

// OnConnection sets the callback for connection changes (discovered,
// active, profiles or properties updated).
func (i *Initiator) OnConnection(fn func(Connection)) { i.onConnection = fn }

// OnProperty sets the callback for completed property requests.
func (i *Initiator) OnProperty(fn func(PropertyResult)) { i.onProperty = fn }

// OnSubscriptionUpdate sets the callback for subscription messages.
func (i *Initiator) OnSubscriptionUpdate(fn func(SubscriptionUpdate)) { i.onSubscription = fn }

// OnNAK sets the callback for NAK replies.
func (i *Initiator) OnNAK(fn func(muid.MUID, *wire.NAK)) { i.onNAK = fn }

// MUID returns the local MUID.
func (i *Initiator) MUID() muid.MUID {
	return i.own()
}

// State returns the discovery state.
func (i *Initiator) State() InitiatorState {
	return i.state
}

func (i *Initiator) setState(s InitiatorState, reason string) {
	if s == i.state {
		return
	}
	old := i.state
	i.state = s
	i.stateChange(log.StateEntityInitiator, 0, old.String(), s.String(), reason)
}

func (c *conn) setState(i *Initiator, s ConnectionState, reason string) {
	if s == c.state {
		return
	}
	old := c.state
	c.state = s
	i.stateChange(log.StateEntityConnection, c.muid, old.String(), s.String(), reason)
}

// Connections returns snapshots of every connection, sorted by MUID.
func (i *Initiator) Connections() []Connection {
	out := make([]Connection, 0, len(i.conns))
	for _, c := range i.conns {
		out = append(out, c.snapshot(i.pendingFor(c.muid)))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].MUID < out[b].MUID })
	return out
}

// Connection returns the snapshot for peer.
func (i *Initiator) Connection(peer muid.MUID) (Connection, bool) {
	c, ok := i.conns[peer]
	if !ok {
		return Connection{}, false
	}
	return c.snapshot(i.pendingFor(peer)), true
}

func (i *Initiator) notifyConnection(c *conn) {
	if i.onConnection != nil {
		i.onConnection(c.snapshot(i.pendingFor(c.muid)))
	}
}

func (i *Initiator) lookup(peer muid.MUID) (*conn, error) {
	c, ok := i.conns[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	return c, nil
}

func (i *Initiator) active(peer muid.MUID) (*conn, error) {
	c, err := i.lookup(peer)
	if err != nil {
		return nil, err
	}
	if c.state != StateActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, peer, c.state)
	}
	return c, nil
}

// SendDiscovery broadcasts a Discovery message.
func (i *Initiator) SendDiscovery() error {
	i.setState(InitiatorDiscovering, "discovery sent")
	return i.emit(&wire.Discovery{
		Header:       i.header(wire.SubIDDiscovery, muid.Broadcast),
		Identity:     i.config.Device.Identity(),
		Category:     i.config.Category,
		MaxSysExSize: i.config.MaxSysExSize,
	})
}

// InvalidateMUID announces that the local MUID is no longer valid, drops
// every connection and allocates a new MUID.
func (i *Initiator) InvalidateMUID() error {
	old := i.own()
	err := i.emit(&wire.InvalidateMUID{
		Header: i.header(wire.SubIDInvalidateMUID, muid.Broadcast),
		Target: old,
	})
	i.reset("local MUID invalidated")
	return err
}

// reset drops all peers and moves to a fresh MUID.
func (i *Initiator) reset(reason string) {
	old := i.own()
	i.muids.InvalidateAll()
	if _, err := i.muids.Regenerate(); err != nil {
		i.logger.Warn("MUID regeneration failed", "error", err)
	}
	i.stateChange(log.StateEntityMUID, 0, old.String(), i.own().String(), reason)
	i.setState(InitiatorInitial, reason)
}

// resolveCollision handles a Discovery Reply sent from the local MUID: the
// MUID is abandoned, announced invalid and discovery starts over.
func (i *Initiator) resolveCollision() error {
	old := i.own()
	i.logger.Warn("MUID collision", "muid", old)
	i.captureError(old, "discovery reply", fmt.Errorf("%w: %s", muid.ErrCollision, old))
	i.reset("MUID collision")
	if err := i.emit(&wire.InvalidateMUID{
		Header: i.header(wire.SubIDInvalidateMUID, muid.Broadcast),
		Target: old,
	}); err != nil {
		return err
	}
	return i.SendDiscovery()
}

// dropPeer is the registry invalidate hook.
func (i *Initiator) dropPeer(m muid.MUID) {
	c, ok := i.conns[m]
	if !ok {
		return
	}
	delete(i.conns, m)
	i.replies.AbortPeer(m)
	i.updates.AbortPeer(m)
	for k := range i.pending {
		if k.Peer == m {
			delete(i.pending, k)
		}
	}
	i.stateChange(log.StateEntityConnection, m, c.state.String(), "INVALIDATED", "MUID invalidated")
}

// ProcessInput handles one SysEx message from the transport. The returned
// error explains why a message was dropped; it does not affect state.
func (i *Initiator) ProcessInput(data []byte) error {
	msg, err := i.receive(data)
	if err != nil {
		return err
	}
	h := msg.MessageHeader()
	if h.Source == i.own() {
		if _, reply := msg.(*wire.DiscoveryReply); reply {
			return i.resolveCollision()
		}
		return nil
	}
	if !i.addressed(h) {
		return nil
	}
	if c, ok := i.conns[h.Source]; ok {
		c.lastActivity = i.now()
	}

	switch m := msg.(type) {
	case *wire.DiscoveryReply:
		return i.handleDiscoveryReply(m)
	case *wire.InvalidateMUID:
		return i.handleInvalidate(m)
	case *wire.NAK:
		return i.handleNAK(m)
	case *wire.ProtocolNegotiation:
		if m.SubID == wire.SubIDProtocolNegotiationReply {
			return i.handleNegotiationReply(m)
		}
	case *wire.TestNewProtocol:
		if m.SubID == wire.SubIDTestNewProtocolRI {
			return i.handleTestReply(m)
		}
	case *wire.ProfileInquiryReply:
		return i.handleProfileReply(m)
	case *wire.ProfileMessage:
		return i.handleProfileReport(m)
	case *wire.ProfileDetailsReply:
		return i.handleProfileDetails(m)
	case *wire.PropertyCapabilities:
		if m.SubID == wire.SubIDPropertyCapabilitiesReply {
			return i.handleCapabilities(m)
		}
	case *wire.PropertyChunk:
		return i.handleProperty(m)
	}
	return nil
}

func (i *Initiator) handleDiscoveryReply(m *wire.DiscoveryReply) error {
	peer := m.Source
	if err := i.muids.RegisterPeer(peer, m.Identity); err != nil {
		i.logger.Warn("discovery reply rejected", "peer", peer, "error", err)
		i.captureError(peer, "discovery reply", err)
		return err
	}

	c, ok := i.conns[peer]
	if ok {
		// Repeated reply: refresh capabilities, keep the negotiated state.
		c.category = m.Category
		c.maxSysExSize = m.MaxSysExSize
		c.lastActivity = i.now()
		i.notifyConnection(c)
		return nil
	}

	c = newConn(peer, m, i.now())
	i.conns[peer] = c
	i.stateChange(log.StateEntityConnection, peer, "", c.state.String(), "discovery reply")
	i.notifyConnection(c)

	if !c.category.Has(wire.CategoryProtocolNegotiation) || !i.config.Category.Has(wire.CategoryProtocolNegotiation) {
		c.protocol = protocol.Midi1
		c.setState(i, StateActive, "peer does not negotiate")
		return i.activated(c)
	}
	if i.config.AutoNegotiate {
		return i.RequestProtocolNegotiation(peer)
	}
	return nil
}

func (i *Initiator) handleInvalidate(m *wire.InvalidateMUID) error {
	if m.Target == i.own() {
		i.reset("peer invalidated local MUID")
		return nil
	}
	if m.Target != m.Source {
		i.logger.Debug("invalidate for third-party MUID", "source", m.Source, "target", m.Target)
	}
	i.muids.Invalidate(m.Target)
	return nil
}

func (i *Initiator) handleNAK(m *wire.NAK) error {
	i.logger.Warn("NAK received",
		"peer", m.Source,
		"original", m.OriginalSubID.String(),
		"status", m.StatusCode,
		"text", m.Text)

	if c, ok := i.conns[m.Source]; ok && c.state == StateNegotiating {
		switch m.OriginalSubID {
		case wire.SubIDProtocolNegotiation, wire.SubIDSetNewProtocol, wire.SubIDTestNewProtocolIR:
			c.pending = protocol.TypeInfo{}
			c.setState(i, StateDiscovered, "negotiation rejected")
		}
	}
	if i.onNAK != nil {
		i.onNAK(m.Source, m)
	}
	return nil
}

// Protocol negotiation

// RequestProtocolNegotiation starts negotiation with peer using the
// configured preference list.
func (i *Initiator) RequestProtocolNegotiation(peer muid.MUID) error {
	c, err := i.lookup(peer)
	if err != nil {
		return err
	}
	c.setState(i, StateNegotiating, "negotiation requested")
	return i.emit(&wire.ProtocolNegotiation{
		Header:    i.header(wire.SubIDProtocolNegotiation, peer),
		Protocols: i.config.Protocols,
	})
}

func (i *Initiator) handleNegotiationReply(m *wire.ProtocolNegotiation) error {
	c, err := i.lookup(m.Source)
	if err != nil {
		return err
	}
	if c.state != StateNegotiating {
		return nil
	}
	c.offered = append([]protocol.TypeInfo(nil), m.Protocols...)

	selected, ok := protocol.Select(i.config.Protocols, m.Protocols)
	if !ok {
		c.setState(i, StateDiscovered, "no common protocol")
		err := fmt.Errorf("%w: peer %s offered %v", ErrUnsupportedProtocol, c.muid, m.Protocols)
		i.captureError(c.muid, "protocol negotiation", err)
		i.notifyConnection(c)
		return err
	}
	c.pending = selected

	if err := i.emit(&wire.SetNewProtocol{
		Header:   i.header(wire.SubIDSetNewProtocol, c.muid),
		Protocol: selected,
	}); err != nil {
		return err
	}
	return i.emit(&wire.TestNewProtocol{
		Header:   i.header(wire.SubIDTestNewProtocolIR, c.muid),
		TestData: wire.NewTestData(),
	})
}

func (i *Initiator) handleTestReply(m *wire.TestNewProtocol) error {
	c, err := i.lookup(m.Source)
	if err != nil {
		return err
	}
	if c.state != StateNegotiating {
		return nil
	}
	if m.TestData != wire.NewTestData() {
		c.pending = protocol.TypeInfo{}
		c.setState(i, StateDiscovered, "test data mismatch")
		return fmt.Errorf("%w: peer %s", ErrProtocolTest, c.muid)
	}

	c.protocol = c.pending
	c.pending = protocol.TypeInfo{}
	c.setState(i, StateActive, "protocol "+c.protocol.String())
	if err := i.emit(&wire.ConfirmNewProtocol{
		Header: i.header(wire.SubIDConfirmNewProtocol, c.muid),
	}); err != nil {
		return err
	}
	return i.activated(c)
}

// activated issues the configured follow-up inquiries.
func (i *Initiator) activated(c *conn) error {
	i.notifyConnection(c)
	if i.config.AutoRequestProfiles && c.category.Has(wire.CategoryProfiles) {
		if err := i.RequestProfiles(c.muid); err != nil {
			return err
		}
	}
	if i.config.AutoRequestPropertyCapabilities && c.category.Has(wire.CategoryPropertyExchange) {
		if err := i.RequestPropertyCapabilities(c.muid); err != nil {
			return err
		}
	}
	return nil
}

// Profiles

// RequestProfiles asks peer for the profiles on its function block.
func (i *Initiator) RequestProfiles(peer muid.MUID) error {
	if _, err := i.active(peer); err != nil {
		return err
	}
	return i.emit(&wire.ProfileInquiry{
		Header: i.header(wire.SubIDProfileInquiry, peer),
	})
}

// SetProfile asks peer to enable or disable a port-wide profile.
func (i *Initiator) SetProfile(peer muid.MUID, id profile.ID, enabled bool) error {
	if _, err := i.active(peer); err != nil {
		return err
	}
	sub := wire.SubIDSetProfileOff
	if enabled {
		sub = wire.SubIDSetProfileOn
	}
	return i.emit(&wire.ProfileMessage{
		Header:  i.header(sub, peer),
		Profile: id,
	})
}

// RequestProfileDetails asks peer for profile-specific details.
func (i *Initiator) RequestProfileDetails(peer muid.MUID, id profile.ID, target byte) error {
	if _, err := i.active(peer); err != nil {
		return err
	}
	return i.emit(&wire.ProfileDetailsInquiry{
		Header:  i.header(wire.SubIDProfileDetailsInquiry, peer),
		Profile: id,
		Target:  target,
	})
}

func (i *Initiator) handleProfileReply(m *wire.ProfileInquiryReply) error {
	c, err := i.lookup(m.Source)
	if err != nil {
		return err
	}
	c.profiles.Merge(profileTarget(m.DeviceID), m.Enabled, m.Disabled)
	i.notifyConnection(c)
	return nil
}

func (i *Initiator) handleProfileReport(m *wire.ProfileMessage) error {
	var enabled bool
	switch m.SubID {
	case wire.SubIDProfileEnabledReport:
		enabled = true
	case wire.SubIDProfileDisabledReport:
	default:
		return nil
	}
	c, err := i.lookup(m.Source)
	if err != nil {
		return err
	}
	c.profiles.Add(profile.Entry{ID: m.Profile, Target: profileTarget(m.DeviceID), Enabled: enabled})
	i.notifyConnection(c)
	return nil
}

func (i *Initiator) handleProfileDetails(m *wire.ProfileDetailsReply) error {
	c, err := i.lookup(m.Source)
	if err != nil {
		return err
	}
	c.profileDetails[ProfileTarget{ID: m.Profile, Target: m.Target}] = m.Data
	i.notifyConnection(c)
	return nil
}

// profileTarget maps the device ID byte to a profile target.
func profileTarget(deviceID byte) byte {
	if deviceID == wire.DeviceIDFunctionBlock || deviceID == wire.DeviceIDGroup {
		return profile.TargetPort
	}
	return deviceID & 0x0F
}

// Property exchange

// RequestPropertyCapabilities asks peer for its property exchange limits.
func (i *Initiator) RequestPropertyCapabilities(peer muid.MUID) error {
	if _, err := i.active(peer); err != nil {
		return err
	}
	return i.emit(&wire.PropertyCapabilities{
		Header:                  i.header(wire.SubIDPropertyCapabilities, peer),
		MaxSimultaneousRequests: i.config.MaxSimultaneousRequests,
	})
}

func (i *Initiator) handleCapabilities(m *wire.PropertyCapabilities) error {
	c, err := i.lookup(m.Source)
	if err != nil {
		return err
	}
	c.capabilities = &PropertyCapabilities{
		MaxSimultaneousRequests: m.MaxSimultaneousRequests,
		MajorVersion:            m.MajorVersion,
		MinorVersion:            m.MinorVersion,
	}
	i.notifyConnection(c)
	return nil
}

func (i *Initiator) pendingFor(peer muid.MUID) int {
	n := 0
	for k := range i.pending {
		if k.Peer == peer {
			n++
		}
	}
	return n
}

// begin allocates a request ID for a new request to c.
func (i *Initiator) begin(c *conn, req *request) (byte, error) {
	limit := int(i.config.MaxSimultaneousRequests)
	if c.capabilities != nil && c.capabilities.MaxSimultaneousRequests > 0 {
		limit = min(limit, int(c.capabilities.MaxSimultaneousRequests))
	}
	if i.pendingFor(c.muid) >= limit {
		return 0, fmt.Errorf("%w: %d in flight to %s", ErrTooManyRequests, limit, c.muid)
	}

	for range 128 {
		id := i.nextRequestID
		i.nextRequestID = (i.nextRequestID + 1) & 0x7F
		key := property.Key{Peer: c.muid, RequestID: id}
		if _, busy := i.pending[key]; busy {
			continue
		}
		req.started = i.now()
		i.pending[key] = req
		return id, nil
	}
	return 0, ErrNoRequestID
}

// requestEncoding is the encoding the initiator asks replies to use.
func (i *Initiator) requestEncoding() property.Encoding {
	if i.config.EnableCompression {
		return property.EncodingZlibMcoded7
	}
	return ""
}

// GetProperty requests a resource from peer and returns the request ID.
// The reply arrives through the OnProperty callback.
func (i *Initiator) GetProperty(peer muid.MUID, resource, resID string) (byte, error) {
	c, err := i.active(peer)
	if err != nil {
		return 0, err
	}
	id, err := i.begin(c, &request{kind: RequestGet, resource: resource, resID: resID})
	if err != nil {
		return 0, err
	}
	h := property.Header{
		Resource:       resource,
		ResID:          resID,
		MutualEncoding: i.requestEncoding(),
	}
	// The request has no body; mutualEncoding only states the wish.
	hdr, err := h.Marshal()
	if err == nil {
		err = i.emit(&wire.PropertyChunk{
			Header:     i.header(wire.SubIDGetPropertyData, peer),
			RequestID:  id,
			HeaderData: hdr,
			NumChunks:  1,
			ChunkIndex: 1,
		})
	}
	if err != nil {
		delete(i.pending, property.Key{Peer: peer, RequestID: id})
		return 0, err
	}
	return id, nil
}

// SetProperty sends a resource body to peer and returns the request ID.
func (i *Initiator) SetProperty(peer muid.MUID, resource, resID string, body []byte) (byte, error) {
	c, err := i.active(peer)
	if err != nil {
		return 0, err
	}
	id, err := i.begin(c, &request{kind: RequestSet, resource: resource, resID: resID})
	if err != nil {
		return 0, err
	}

	var wish property.Encoding
	if c.compression {
		wish = property.EncodingZlibMcoded7
	}
	enc := chooseEncoding(wish, i.config.EnableCompression, body)
	h := property.Header{
		Resource:       resource,
		ResID:          resID,
		MutualEncoding: wireEncoding(enc),
	}
	if err := i.sendChunks(wire.SubIDSetPropertyData, peer, id, h, body, c.maxSysExSize); err != nil {
		delete(i.pending, property.Key{Peer: peer, RequestID: id})
		return 0, err
	}
	return id, nil
}

// Subscribe asks peer to report changes of resource.
func (i *Initiator) Subscribe(peer muid.MUID, resource string) (byte, error) {
	c, err := i.active(peer)
	if err != nil {
		return 0, err
	}
	id, err := i.begin(c, &request{kind: RequestSubscribe, resource: resource})
	if err != nil {
		return 0, err
	}
	h := property.Header{
		Resource:       resource,
		Command:        property.CommandStart,
		MutualEncoding: i.requestEncoding(),
	}
	if err := i.sendChunks(wire.SubIDSubscription, peer, id, h, nil, c.maxSysExSize); err != nil {
		delete(i.pending, property.Key{Peer: peer, RequestID: id})
		return 0, err
	}
	return id, nil
}

// Unsubscribe ends the subscription to resource. The subscription is
// forgotten locally right away.
func (i *Initiator) Unsubscribe(peer muid.MUID, resource string) (byte, error) {
	c, err := i.active(peer)
	if err != nil {
		return 0, err
	}
	subID, ok := c.subscriptionFor(resource)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotSubscribed, resource)
	}
	id, err := i.begin(c, &request{kind: RequestUnsubscribe, resource: resource})
	if err != nil {
		return 0, err
	}
	delete(c.subscriptions, subID)
	h := property.Header{
		Resource:    resource,
		Command:     property.CommandEnd,
		SubscribeID: subID,
	}
	if err := i.sendChunks(wire.SubIDSubscription, peer, id, h, nil, c.maxSysExSize); err != nil {
		delete(i.pending, property.Key{Peer: peer, RequestID: id})
		return 0, err
	}
	return id, nil
}

// AbortTransaction terminates an outstanding request.
func (i *Initiator) AbortTransaction(peer muid.MUID, requestID byte) error {
	key := property.Key{Peer: peer, RequestID: requestID}
	if _, ok := i.pending[key]; !ok {
		return fmt.Errorf("%w: %s request %d", property.ErrUnknownTransaction, peer, requestID)
	}
	delete(i.pending, key)
	i.replies.Abort(key)

	c := i.conns[peer]
	var peerMax uint32
	if c != nil {
		peerMax = c.maxSysExSize
	}
	return i.sendChunks(wire.SubIDPropertyNotify, peer, requestID, property.Header{Status: StatusTerminate}, nil, peerMax)
}

// AbandonStale drops requests that saw no traffic for longer than maxAge
// and reports each through OnProperty with ErrTimeout. It returns the
// number of abandoned requests.
func (i *Initiator) AbandonStale(maxAge time.Duration) int {
	now := i.now()
	var stale []property.Key
	for k, req := range i.pending {
		last := req.started
		if tx, ok := i.replies.Pending(k); ok && tx.LastActivity.After(last) {
			last = tx.LastActivity
		}
		if now.Sub(last) > maxAge {
			stale = append(stale, k)
		}
	}
	sort.Slice(stale, func(a, b int) bool {
		if stale[a].Peer != stale[b].Peer {
			return stale[a].Peer < stale[b].Peer
		}
		return stale[a].RequestID < stale[b].RequestID
	})

	for _, k := range stale {
		req := i.pending[k]
		delete(i.pending, k)
		i.replies.Abort(k)
		i.logger.Warn("property request timed out", "peer", k.Peer, "request_id", k.RequestID, "resource", req.resource)
		i.deliver(PropertyResult{
			Peer:      k.Peer,
			RequestID: k.RequestID,
			Kind:      req.kind,
			Resource:  req.resource,
			ResID:     req.resID,
			Err:       ErrTimeout,
		})
	}
	// Partial subscription messages from responders.
	stale = append(stale, i.updates.Stale(maxAge)...)
	return len(stale)
}

func (i *Initiator) deliver(r PropertyResult) {
	if i.onProperty != nil {
		i.onProperty(r)
	}
}

func (i *Initiator) handleProperty(m *wire.PropertyChunk) error {
	switch m.SubID {
	case wire.SubIDGetPropertyDataReply, wire.SubIDSetPropertyDataReply, wire.SubIDSubscriptionReply:
		return i.handleReply(m)
	case wire.SubIDSubscription:
		return i.handleUpdate(m)
	case wire.SubIDPropertyNotify:
		return i.handleNotify(m)
	}
	return nil
}

func (i *Initiator) handleReply(m *wire.PropertyChunk) error {
	key := property.Key{Peer: m.Source, RequestID: m.RequestID}
	req, ok := i.pending[key]
	if !ok {
		return fmt.Errorf("%w: %s request %d", property.ErrUnknownTransaction, m.Source, m.RequestID)
	}
	res, err := i.replies.Add(key, chunkOf(m))
	if err != nil {
		i.logger.Debug("chunk rejected", "peer", m.Source, "request_id", m.RequestID, "error", err)
		return err
	}
	if res == nil {
		return nil
	}
	delete(i.pending, key)

	result := PropertyResult{
		Peer:      m.Source,
		RequestID: m.RequestID,
		Kind:      req.kind,
		Resource:  req.resource,
		ResID:     req.resID,
	}
	h, body, err := res.Decode(i.codec)
	result.Header = h
	result.Status = h.Status
	if err != nil {
		result.Err = err
		i.captureError(m.Source, "property reply", err)
		i.deliver(result)
		return err
	}
	result.Body = body

	if c, ok := i.conns[m.Source]; ok {
		i.applyReply(c, req, h, body)
	}
	i.deliver(result)
	return nil
}

// applyReply records a successful reply on the connection.
func (i *Initiator) applyReply(c *conn, req *request, h property.Header, body []byte) {
	if h.MutualEncoding.Compressed() {
		c.compression = true
	}
	if h.Status != property.StatusOK && h.Status != property.StatusAccepted {
		return
	}
	key := ResourceKey(req.resource, req.resID)
	switch req.kind {
	case RequestGet:
		c.properties[key] = body
		if req.resource == property.DeviceInfo {
			var info property.DeviceInfoBody
			if err := json.Unmarshal(body, &info); err == nil {
				c.device.applyBody(info)
			} else {
				i.logger.Warn("invalid DeviceInfo body", "peer", c.muid, "error", err)
			}
		}
	case RequestSubscribe:
		if h.SubscribeID != "" {
			c.subscriptions[h.SubscribeID] = key
		}
	default:
		return
	}
	i.notifyConnection(c)
}

// handleUpdate processes a subscription message from the responder and
// acknowledges it.
func (i *Initiator) handleUpdate(m *wire.PropertyChunk) error {
	c, err := i.lookup(m.Source)
	if err != nil {
		return err
	}
	key := property.Key{Peer: m.Source, RequestID: m.RequestID}
	res, err := i.updates.Add(key, chunkOf(m))
	if err != nil || res == nil {
		return err
	}

	h, body, err := res.Decode(i.codec)
	if err != nil {
		i.captureError(m.Source, "subscription update", err)
		return errors.Join(err, i.sendChunks(wire.SubIDSubscriptionReply, m.Source, m.RequestID,
			property.Header{Status: property.StatusOf(err)}, nil, c.maxSysExSize))
	}

	resource := h.Resource
	if resource == "" {
		resource = c.subscriptions[h.SubscribeID]
	}
	rk := ResourceKey(resource, h.ResID)
	switch h.Command {
	case property.CommandFull:
		c.properties[rk] = body
	case property.CommandEnd:
		delete(c.subscriptions, h.SubscribeID)
	}

	if err := i.sendChunks(wire.SubIDSubscriptionReply, m.Source, m.RequestID,
		property.Header{Status: property.StatusOK}, nil, c.maxSysExSize); err != nil {
		return err
	}
	if i.onSubscription != nil {
		i.onSubscription(SubscriptionUpdate{
			Peer:        m.Source,
			SubscribeID: h.SubscribeID,
			Resource:    resource,
			ResID:       h.ResID,
			Command:     h.Command,
			Body:        body,
		})
	}
	return nil
}

// handleNotify ends a transaction the responder terminated.
func (i *Initiator) handleNotify(m *wire.PropertyChunk) error {
	key := property.Key{Peer: m.Source, RequestID: m.RequestID}
	i.updates.Abort(key)
	req, ok := i.pending[key]
	if !ok {
		return nil
	}
	delete(i.pending, key)
	i.replies.Abort(key)
	h, _ := property.ParseHeader(m.HeaderData)
	i.deliver(PropertyResult{
		Peer:      m.Source,
		RequestID: m.RequestID,
		Kind:      req.kind,
		Resource:  req.resource,
		ResID:     req.resID,
		Header:    h,
		Status:    h.Status,
		Err:       ErrAborted,
	})
	return nil
}
