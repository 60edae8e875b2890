// Package protocol defines wire-level constants shared by the name
// resolution protocols: unicast DNS (RFC 1035), Multicast DNS (RFC 6762),
// LLMNR (RFC 4795) and NetBIOS Name Service (RFC 1002).
package protocol

import "time"

// Well-known UDP ports.
const (
	DNSPort   = 53
	NBNSPort  = 137
	MDNSPort  = 5353
	LLMNRPort = 5355
)

// Ephemeral source port range used for unicast DNS queries (RFC 6335 §6).
const (
	EphemeralPortMin = 49152
	EphemeralPortMax = 65535
)

// DNS name encoding limits per RFC 1035 §3.1.
const (
	MaxLabelLength = 63
	MaxNameLength  = 255

	// MaxNameRecursion bounds the depth of compression pointer chains a
	// decoder will follow before declaring the message malformed.
	MaxNameRecursion = 4

	// CompressionTag marks a compression pointer: the two high-order bits
	// of the length octet are set (RFC 1035 §4.1.4).
	CompressionTag = 0xC0
)

// Message size limits. Unicast DNS over UDP is bounded by RFC 1035 §2.3.4;
// mDNS allows larger messages on the local link (RFC 6762 §17).
const (
	DNSMessageMaxSize  = 512
	MDNSMessageMaxSize = 1024

	// HeaderSize is the fixed DNS header length (RFC 1035 §4.1.1).
	HeaderSize = 12

	// QuestionMetaSize is the QTYPE+QCLASS trailer of a question entry.
	QuestionMetaSize = 4

	// RecordMetaSize is the fixed portion of a resource record that
	// follows the name: type, class, TTL and rdlength.
	RecordMetaSize = 10
)

// Resource record types.
const (
	TypeA     = 1
	TypeNS    = 2
	TypeCNAME = 5
	TypeSOA   = 6
	TypePTR   = 12
	TypeTXT   = 16
	TypeAAAA  = 28
	TypeNB    = 32
	TypeSRV   = 33
	TypeNSEC  = 47
	TypeANY   = 255
)

// Resource record classes.
const (
	ClassIN  = 1
	ClassANY = 255

	// CacheFlush is the high bit of the class field of an mDNS resource
	// record (RFC 6762 §10.2). In a question the same bit requests a
	// unicast response (QU, RFC 6762 §5.4).
	CacheFlush = 0x8000
	QUBit      = 0x8000
)

// Header flag bits, referring to the 16-bit flags word in bytes 2-3 of the
// DNS header (RFC 1035 §4.1.1).
const (
	FlagQR = 0x8000
	FlagAA = 0x0400
	FlagTC = 0x0200
	FlagRD = 0x0100
	FlagRA = 0x0080

	// FlagBroadcast is the NBNS B bit (RFC 1002 §4.2.1.1).
	FlagBroadcast = 0x0010

	// FlagTentative and FlagConflict are the LLMNR T and C bits
	// (RFC 4795 §2.1.1).
	FlagTentative = 0x0100
	FlagConflict  = 0x0400

	OpcodeMask  = 0x7800
	OpcodeShift = 11
	RCodeMask   = 0x000F
)

// Response codes.
const (
	RCodeNoError  = 0
	RCodeFormErr  = 1
	RCodeServFail = 2
	RCodeNXDomain = 3
)

// OpcodeQuery is the only opcode the stack emits or processes.
const OpcodeQuery = 0

// Multicast groups joined on every configured interface.
const (
	MDNSIPv4Group  = "224.0.0.251"
	MDNSIPv6Group  = "ff02::fb"
	LLMNRIPv4Group = "224.0.0.252"
	LLMNRIPv6Group = "ff02::1:3"
)

// Resolver cache sizing.
const (
	CacheSize  = 8
	MaxHostLen = 63
)

// Unicast DNS client timing (RFC 1035 §4.2.1 leaves retransmission policy
// to the implementation; these match common embedded practice).
const (
	DNSMaxRetries  = 3
	DNSInitTimeout = 1000 * time.Millisecond
	DNSMaxTimeout  = 5000 * time.Millisecond
	DNSMinLifetime = 1000 * time.Millisecond
	DNSMaxLifetime = 3600000 * time.Millisecond
)

// mDNS client timing.
const (
	MDNSMaxRetries  = 3
	MDNSInitTimeout = 1000 * time.Millisecond
	MDNSMaxTimeout  = 1000 * time.Millisecond
	MDNSMaxLifetime = 60000 * time.Millisecond
)

// LLMNR client timing (RFC 4795 §4: LLMNR_TIMEOUT, JITTER_INTERVAL).
const (
	LLMNRMaxRetries  = 3
	LLMNRInitTimeout = 1000 * time.Millisecond
	LLMNRMaxTimeout  = 1000 * time.Millisecond
	LLMNRMaxLifetime = 60000 * time.Millisecond
)

// NBNS client timing (RFC 1002 §4.2.1.1: BCAST_REQ_RETRY_TIMEOUT).
const (
	NBNSMaxRetries  = 3
	NBNSInitTimeout = 1000 * time.Millisecond
	NBNSMaxTimeout  = 1000 * time.Millisecond
	NBNSMaxLifetime = 60000 * time.Millisecond
)

// Cache polling backoff used by blocking resolution.
const (
	CacheInitPollingInterval = 10 * time.Millisecond
	CacheMaxPollingInterval  = 1000 * time.Millisecond
)

// mDNS responder timing (RFC 6762 §8).
const (
	MDNSProbeNum      = 3
	MDNSProbeDelay    = 250 * time.Millisecond
	MDNSProbeDefer    = 1000 * time.Millisecond
	MDNSAnnounceNum   = 2
	MDNSAnnounceDelay = 1000 * time.Millisecond

	MDNSRandDelayMin    = 0
	MDNSRandDelayMax    = 250 * time.Millisecond
	MDNSMaxWaitingDelay = 10000 * time.Millisecond

	MDNSMaxHostnameLen = 32
)

// Default resource record TTLs, in seconds of cache lifetime.
const (
	MDNSDefaultRRTTL  = 120
	LLMNRDefaultRRTTL = 30
	NBNSDefaultRRTTL  = 120

	// MDNSLegacyUnicastRRTTL caps the TTL given to legacy unicast
	// queriers (RFC 6762 §6.7).
	MDNSLegacyUnicastRRTTL = 10
)

// IP-level TTL for link-local protocols. Queries and responses are sent
// with TTL 255 and must not be routed off-link.
const DefaultIPTTL = 255

// DNS-SD sizing (RFC 6763).
const (
	DNSSDServiceListSize    = 8
	DNSSDMaxServiceNameLen  = 16
	DNSSDMaxInstanceNameLen = 32
	DNSSDMaxMetadataLen     = 128
	DNSSDDefaultRRTTL       = 120
)

// Tick intervals. The stack tick fires every TickInterval; each protocol
// runs its own handler when the per-protocol counter crosses the interval.
const (
	TickInterval              = 100 * time.Millisecond
	DNSTickInterval           = 200 * time.Millisecond
	MDNSResponderTickInterval = 250 * time.Millisecond
	DNSSDTickInterval         = 250 * time.Millisecond
)

// Callback table bounds.
const (
	MaxLinkChangeCallbacks = 8
	MaxTimerCallbacks      = 8
)

// EventBudget bounds how many pending interface events the dispatcher
// drains per wakeup, so inbound load cannot starve tick deadlines.
const EventBudget = 8
