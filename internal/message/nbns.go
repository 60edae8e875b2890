package message

import (
	"github.com/joshuafuller/lantern/internal/errors"
)

// NetBIOS first-level name encoding (RFC 1001 §14.1): the 16-byte NetBIOS
// name is spread over 32 octets, each half-octet mapped into the range
// 'A'..'P'. The 16th byte is the NetBIOS suffix; this stack only uses the
// workstation suffix 0x00.

// NBNSEncodedNameLen is the exact on-wire size of an encoded NetBIOS name:
// one length octet, 32 nibble octets and a terminating zero label.
const NBNSEncodedNameLen = 34

const nbnsSuffixWorkstation = 0x00

// EncodeNBNSName encodes a host name of 1..15 ASCII characters into the
// 34-octet NBNS wire form, uppercasing the name and padding with spaces.
// dst must have room for NBNSEncodedNameLen octets.
func EncodeNBNSName(name string, dst []byte) (int, error) {
	if len(name) < 1 || len(name) > 15 {
		return 0, &errors.ValidationError{
			Field:   "name",
			Value:   name,
			Message: "NetBIOS names are 1..15 characters",
		}
	}
	if len(dst) < NBNSEncodedNameLen {
		return 0, &errors.ValidationError{
			Field:   "dst",
			Message: "destination buffer too small",
		}
	}

	j := 0
	dst[j] = 32
	j++

	for i := 0; i < 15; i++ {
		c := byte(' ')
		if i < len(name) {
			c = upper(name[i])
		}
		dst[j] = 'A' + (c >> 4)
		dst[j+1] = 'A' + (c & 0x0F)
		j += 2
	}

	// The 16th character carries the NetBIOS suffix.
	dst[j] = 'A' + (nbnsSuffixWorkstation >> 4)
	dst[j+1] = 'A' + (nbnsSuffixWorkstation & 0x0F)
	j += 2

	// NetBIOS names are terminated by a zero length count.
	dst[j] = 0
	j++

	return j, nil
}

// ParseNBNSName decodes the NetBIOS name at off, trimming the space
// padding. The returned offset is just past the terminating zero label.
func ParseNBNSName(msg []byte, off int) (string, int, error) {
	name, n, err := walkNBNSName(msg, off, true)
	if err != nil {
		return "", 0, err
	}
	return name, n, nil
}

// CompareNBNSName reports whether the NetBIOS name at off matches a host
// name, case-insensitively.
func CompareNBNSName(msg []byte, off int, name string) bool {
	decoded, _, err := walkNBNSName(msg, off, true)
	if err != nil {
		return false
	}
	if len(decoded) != len(name) {
		return false
	}
	for i := 0; i < len(name); i++ {
		if upper(decoded[i]) != upper(name[i]) {
			return false
		}
	}
	return true
}

func walkNBNSName(msg []byte, off int, build bool) (string, int, error) {
	if off < 0 || off+NBNSEncodedNameLen > len(msg) {
		return "", 0, &errors.WireFormatError{
			Operation: "parse NetBIOS name",
			Offset:    off,
			Message:   "truncated name",
		}
	}

	pos := off
	if msg[pos] != 32 {
		return "", 0, &errors.WireFormatError{
			Operation: "parse NetBIOS name",
			Offset:    pos,
			Message:   "NetBIOS names must be 32 octets",
		}
	}
	pos++

	var out [15]byte
	n := 0
	padded := false

	for i := 0; i < 16; i++ {
		h, l := msg[pos], msg[pos+1]
		if h < 'A' || h > 'P' || l < 'A' || l > 'P' {
			return "", 0, &errors.WireFormatError{
				Operation: "parse NetBIOS name",
				Offset:    pos,
				Message:   "invalid half-octet sequence",
			}
		}
		c := (h-'A')<<4 | (l - 'A')
		pos += 2

		// The 16th character is the suffix, not part of the name.
		if i == 15 {
			break
		}
		if c == ' ' {
			padded = true
			continue
		}
		if !padded && build {
			out[n] = c
			n++
		}
	}

	if msg[pos] != 0 {
		return "", 0, &errors.WireFormatError{
			Operation: "parse NetBIOS name",
			Offset:    pos,
			Message:   "missing terminating label",
		}
	}
	pos++

	return string(out[:n]), pos, nil
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
