// Package ump implements UMP Endpoint Discovery: the stream messages
// (message type 0xF) two Universal MIDI Packet endpoints exchange to
// learn each other's identity, name, stream protocol and function blocks.
//
// Every stream message is one 128-bit packet:
//
//	word 0: 1111 <format:2> <status:10> <data:16>
//	words 1-3: message data
//
// Text fields (endpoint name, product instance id, function block name)
// span several packets using the start/continue/end formats.
//
// An Endpoint plays both roles at once. It answers Endpoint Discovery,
// Stream Configuration Requests and Function Block Discovery from its
// peer, and after SendDiscovery it mirrors the peer in a TargetEndpoint,
// following Endpoint Info with Function Block Discovery and a Stream
// Configuration Request when its StreamConfiguration enables them.
//
// Function blocks are mirrored in arrival order, keyed by first group
// index; names are matched to blocks by block number.
package ump
