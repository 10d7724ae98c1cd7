// Package wire defines the MIDI-CI message formats carried in Universal
// System Exclusive messages.
//
// Every MIDI-CI message shares a common header (the SysEx F0/F7 framing is
// handled by package sysex, not here):
//
//	7E <device ID> 0D <sub-ID#2> <version> <source MUID:4> <destination MUID:4> <body...>
//
// The device ID byte addresses a channel (0x00-0x0F), a group (0x7E) or the
// whole function block (0x7F). Multi-byte integers are sent as 7-bit septets,
// least significant first.
//
// # Message Families
//
//   - Management: Discovery, Discovery Reply, Invalidate MUID, NAK
//   - Protocol negotiation: Initiate, Reply, Set New, Test, Confirm
//   - Profile configuration: Inquiry, Reply, Set On/Off, Enabled/Disabled
//     Report, Details Inquiry/Reply
//   - Property exchange: Capabilities, Get, Set, Subscription, Notify and
//     their replies, all sharing one chunked layout
//
// # Versions
//
// Messages are emitted with format version 0x02. Older messages decode with
// the trailing fields added by later versions left at their zero value.
package wire
