// Package discovery advertises and browses MIDI-CI network ports over mDNS.
//
// A network port carries either raw SysEx (MIDI-CI) or UMP words over TCP,
// framed by pkg/transport. Ports announce themselves as
//
//	<instance>._midici._tcp.local
//
// with TXT records describing the device:
//
//	tp    transport: "sysex" or "ump"
//	name  endpoint or model name
//	pid   product instance id (optional)
//	mf    SysEx manufacturer id, hex
//	md    model number, decimal
//	muid  responder MUID, hex (optional)
//	ver   MIDI-CI message format version (optional)
//
// Browsing aggregates addresses per instance across interfaces.
package discovery
