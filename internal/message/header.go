// Package message implements the DNS wire codec shared by all four name
// resolution protocols: header field access, name encoding and compression
// pointer decoding (RFC 1035 §4.1), the mDNS extensions to question and
// record classes (RFC 6762), lexicographic record comparison for probe
// tie-breaking (RFC 6762 §8.2), and the NetBIOS first-level name encoding
// (RFC 1001 §14.1).
//
// Messages are plain byte slices. All multi-octet fields are big-endian and
// accessed through explicit getters and setters; nothing in this package
// relies on struct layout.
package message

import (
	"encoding/binary"

	"github.com/joshuafuller/lantern/internal/protocol"
)

// Header layout (RFC 1035 §4.1.1), 12 bytes:
//
//	                                1  1  1  1  1  1
//	  0  1  2  3  4  5  6  7  8  9  0  1  2  3  4  5
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                      ID                       |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|QR|   Opcode  |AA|TC|RD|RA|   Z    |   RCODE   |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                    QDCOUNT                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                    ANCOUNT                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                    NSCOUNT                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|                    ARCOUNT                    |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//
// The NBNS B bit and the LLMNR T and C bits live inside the same flags word
// at the positions given in the protocol package.

// ID returns the transaction identifier.
func ID(msg []byte) uint16 { return binary.BigEndian.Uint16(msg[0:2]) }

// SetID sets the transaction identifier.
func SetID(msg []byte, id uint16) { binary.BigEndian.PutUint16(msg[0:2], id) }

// Flags returns the 16-bit flags word.
func Flags(msg []byte) uint16 { return binary.BigEndian.Uint16(msg[2:4]) }

// SetFlags sets the 16-bit flags word.
func SetFlags(msg []byte, flags uint16) { binary.BigEndian.PutUint16(msg[2:4], flags) }

// IsResponse reports whether the QR bit is set.
func IsResponse(msg []byte) bool { return Flags(msg)&protocol.FlagQR != 0 }

// Opcode extracts the operation code (bits 11-14 of the flags word).
func Opcode(msg []byte) uint8 {
	return uint8((Flags(msg) & protocol.OpcodeMask) >> protocol.OpcodeShift)
}

// RCode extracts the response code (bits 0-3 of the flags word).
func RCode(msg []byte) uint8 { return uint8(Flags(msg) & protocol.RCodeMask) }

// QDCount returns the number of question entries.
func QDCount(msg []byte) int { return int(binary.BigEndian.Uint16(msg[4:6])) }

// ANCount returns the number of answer records.
func ANCount(msg []byte) int { return int(binary.BigEndian.Uint16(msg[6:8])) }

// NSCount returns the number of authority records.
func NSCount(msg []byte) int { return int(binary.BigEndian.Uint16(msg[8:10])) }

// ARCount returns the number of additional records.
func ARCount(msg []byte) int { return int(binary.BigEndian.Uint16(msg[10:12])) }

// SetQDCount sets the number of question entries.
func SetQDCount(msg []byte, n int) { binary.BigEndian.PutUint16(msg[4:6], uint16(n)) }

// SetANCount sets the number of answer records.
func SetANCount(msg []byte, n int) { binary.BigEndian.PutUint16(msg[6:8], uint16(n)) }

// SetNSCount sets the number of authority records.
func SetNSCount(msg []byte, n int) { binary.BigEndian.PutUint16(msg[8:10], uint16(n)) }

// SetARCount sets the number of additional records.
func SetARCount(msg []byte, n int) { binary.BigEndian.PutUint16(msg[10:12], uint16(n)) }

// RecordTotal returns the combined record count across the answer,
// authority and additional sections.
func RecordTotal(msg []byte) int { return ANCount(msg) + NSCount(msg) + ARCount(msg) }

// ValidHeader reports whether msg is long enough to carry a DNS header.
func ValidHeader(msg []byte) bool { return len(msg) >= protocol.HeaderSize }
