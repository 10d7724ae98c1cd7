// Package property implements MIDI-CI Property Exchange: JSON headers, body
// encodings, chunking and reassembly, and the resource service a responder
// serves from.
//
// # Body Encodings
//
//   - ASCII: the body travels as is and must be 7-bit clean
//   - Mcoded7: the body is Mcoded7 encoded
//   - zlib+Mcoded7: the body is raw DEFLATE compressed, then Mcoded7 encoded
//
// Compression is only applied when the requester asks for zlib+Mcoded7
// and the responder allows it.
//
// # Chunking
//
// Split cuts an encoded body into numbered chunks (1-based). The header is
// carried in the first chunk only. Accumulator reassembles chunks per
// (peer MUID, request ID) by index, so out-of-order delivery within a
// transaction still assembles correctly, while duplicates are discarded.
package property
