// Package midici implements the MIDI-CI Initiator and Responder state
// machines.
//
// Both sides are transport agnostic. They are built with a Sender that
// writes one complete SysEx message, and the owner feeds every received
// message to ProcessInput. Neither type starts goroutines or timers, and
// neither is safe for concurrent use: callers serialize access to each
// instance.
//
// # Initiator
//
// SendDiscovery broadcasts a Discovery Inquiry. Each Discovery Reply creates
// a Connection that moves through
//
//	Discovered -> Negotiating -> Active
//
// Protocol negotiation uses the initiator's preference order; the responder
// may only accept entries from it. A peer that does not support negotiation
// becomes Active on MIDI 1.0. Once Active, the initiator can inquire
// profiles, fetch property capabilities and run Get, Set and Subscribe
// transactions. Results arrive through OnProperty and OnSubscriptionUpdate.
//
// Property transactions are never timed internally. AbandonStale releases
// transactions that saw no traffic for a given age, and AbortTransaction
// ends one explicitly.
//
// # Responder
//
// A Responder answers Discovery at any time and never initiates discovery.
// Profile and property requests are delegated to the profile.Service and
// property.Service in its ResponderConfig. Unknown profiles and resources
// are answered with a NAK or an error status, never dropped.
// NotifyPropertyChanged queues subscription updates, which
// ProcessNotifications sends once the coalescing window allows.
//
// # Errors
//
// Malformed messages and codec failures abort only the affected message or
// transaction. ProcessInput returns the error for diagnostics; the state
// machine stays usable.
package midici
