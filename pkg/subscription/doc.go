// Package subscription implements the responder side of MIDI-CI property
// subscriptions.
//
// An initiator subscribes to a resource (optionally narrowed by a resource
// ID) and receives a subscribeId. Whenever the hosting application reports a
// change to that resource, the subscriber is sent the new body.
//
// # Coalescing
//
// When several changes occur within MinInterval, only the final body is
// sent. The coalescing window starts with the first change after the
// previous notification. A zero MinInterval notifies on the next call to
// ProcessNotifications.
//
// # Bounce-Back Suppression
//
// If the resource returns to the body last sent within the coalescing
// window, no notification is sent.
//
// # Lifecycle
//
// Subscriptions do not survive MUID invalidation. RemovePeer drops every
// subscription held by an invalidated initiator.
package subscription
