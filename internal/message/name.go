package message

import (
	"strings"

	"github.com/joshuafuller/lantern/internal/errors"
	"github.com/joshuafuller/lantern/internal/protocol"
)

// EncodeName encodes a dotted name into the DNS label format (RFC 1035
// §3.1): each label prefixed by its length, terminated by a zero octet.
// Labels must be 1..63 octets and the encoded form must not exceed 255
// octets. When dst is nil the function only computes the resulting length,
// so callers can reserve buffer space before writing.
//
// Example: "printer.local" → [7]printer[5]local[0]
func EncodeName(name string, dst []byte) (int, error) {
	length := 0

	for {
		label := name
		if i := strings.IndexByte(name, '.'); i >= 0 {
			label = name[:i]
			name = name[i+1:]
		} else {
			name = ""
		}

		if len(label) < 1 || len(label) > protocol.MaxLabelLength {
			return 0, &errors.ValidationError{
				Field:   "name",
				Value:   label,
				Message: "label must be 1..63 octets",
			}
		}

		if dst != nil {
			if length+len(label)+2 > len(dst) {
				return 0, &errors.ValidationError{
					Field:   "name",
					Message: "destination buffer too small",
				}
			}
			dst[length] = byte(len(label))
			copy(dst[length+1:], label)
		}
		length += len(label) + 1

		if name == "" {
			break
		}
	}

	// Account for the terminating zero octet.
	if dst != nil {
		dst[length] = 0
	}
	length++

	if length > protocol.MaxNameLength {
		return 0, &errors.ValidationError{
			Field:   "name",
			Message: "encoded name exceeds 255 octets",
		}
	}

	return length, nil
}

// EncodeServiceName encodes the three-part instance/service/domain form
// used by mDNS and DNS-SD (RFC 6763 §4.1), e.g. ("Printer", "_http._tcp",
// ".local"). Each non-empty part contributes its labels; the null
// terminator between parts is suppressed so the result is one contiguous
// name. A leading "." on the domain part is ignored. Any part may be empty.
// As with EncodeName, a nil dst computes the length only.
func EncodeServiceName(instance, service, domain string, dst []byte) (int, error) {
	length := 0

	appendPart := func(part string) error {
		if part == "" {
			return nil
		}
		// Drop the null label left by the preceding part.
		if length > 0 {
			length--
		}
		var n int
		var err error
		if dst != nil {
			n, err = EncodeName(part, dst[length:])
		} else {
			n, err = EncodeName(part, nil)
		}
		if err != nil {
			return err
		}
		length += n
		return nil
	}

	if err := appendPart(instance); err != nil {
		return 0, err
	}
	if err := appendPart(service); err != nil {
		return 0, err
	}
	if err := appendPart(strings.TrimPrefix(domain, ".")); err != nil {
		return 0, err
	}

	if length == 0 {
		return 0, &errors.ValidationError{
			Field:   "name",
			Message: "empty service name",
		}
	}
	if length > protocol.MaxNameLength {
		return 0, &errors.ValidationError{
			Field:   "name",
			Message: "encoded name exceeds 255 octets",
		}
	}

	return length, nil
}

// ParseName decodes an encoded name starting at off, following compression
// pointers (RFC 1035 §4.1.4). The returned offset is the position just past
// the name in the wire stream, i.e. past the terminating zero octet or past
// the first compression pointer. Pointer chains are followed iteratively
// with an explicit depth counter; chains deeper than the recursion bound
// are rejected rather than looped over.
func ParseName(msg []byte, off int) (string, int, error) {
	var sb strings.Builder
	n, err := walkName(msg, off, &sb)
	if err != nil {
		return "", 0, err
	}
	return sb.String(), n, nil
}

// SkipName advances past an encoded name without decoding it, validating
// structure and pointer depth on the way.
func SkipName(msg []byte, off int) (int, error) {
	return walkName(msg, off, nil)
}

func walkName(msg []byte, off int, sb *strings.Builder) (int, error) {
	if off < 0 || off >= len(msg) {
		return 0, &errors.WireFormatError{
			Operation: "parse name",
			Offset:    off,
			Message:   "offset out of bounds",
		}
	}

	pos := off
	next := -1
	depth := 0
	decoded := 0

	for {
		if pos >= len(msg) {
			return 0, &errors.WireFormatError{
				Operation: "parse name",
				Offset:    pos,
				Message:   "truncated name",
			}
		}

		c := int(msg[pos])
		switch {
		case c == 0:
			if next < 0 {
				next = pos + 1
			}
			return next, nil

		case c >= protocol.CompressionTag:
			if pos+1 >= len(msg) {
				return 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Message:   "truncated compression pointer",
				}
			}
			if next < 0 {
				next = pos + 2
			}
			depth++
			if depth > protocol.MaxNameRecursion {
				return 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Message:   "compression pointer chain too deep",
				}
			}
			pos = (c&^protocol.CompressionTag)<<8 | int(msg[pos+1])

		case c > protocol.MaxLabelLength:
			return 0, &errors.WireFormatError{
				Operation: "parse name",
				Offset:    pos,
				Message:   "label length exceeds 63 octets",
			}

		default:
			if pos+1+c > len(msg) {
				return 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Message:   "truncated label",
				}
			}
			decoded += c + 1
			if decoded > protocol.MaxNameLength {
				return 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Message:   "name exceeds 255 octets",
				}
			}
			if sb != nil {
				if sb.Len() > 0 {
					sb.WriteByte('.')
				}
				sb.Write(msg[pos+1 : pos+1+c])
			}
			pos += 1 + c
		}
	}
}

// CompareName compares the encoded name at off against a dotted in-memory
// name, case-insensitively and following compression pointers. It returns
// -1, 0 or +1 in the usual lexicographic sense; a name with remaining data
// where the other has ended is deemed later. A non-nil error means the
// comparison is ambiguous (malformed message or pointer chain overflow) and
// callers performing tie-breaks must treat it as such.
func CompareName(msg []byte, off int, name string) (int, error) {
	return CompareServiceName(msg, off, name, "", "")
}

// CompareServiceName compares the encoded name at off against the
// three-part instance/service/domain form, with the same conventions as
// CompareName. Empty parts are skipped; a leading "." on the domain part is
// ignored.
func CompareServiceName(msg []byte, off int, instance, service, domain string) (int, error) {
	pos := off
	depth := 0
	domain = strings.TrimPrefix(domain, ".")

	for pos < len(msg) {
		n := int(msg[pos])

		if n == 0 {
			// A name which still has remaining data is deemed later.
			if instance != "" || service != "" || domain != "" {
				return -1, nil
			}
			return 0, nil
		}

		if n >= protocol.CompressionTag {
			if pos+1 >= len(msg) {
				return 0, malformedCompare(pos)
			}
			depth++
			if depth > protocol.MaxNameRecursion {
				return 0, malformedCompare(pos)
			}
			pos = (n&^protocol.CompressionTag)<<8 | int(msg[pos+1])
			continue
		}

		if n > protocol.MaxLabelLength || pos+1+n > len(msg) {
			return 0, malformedCompare(pos)
		}

		// Pick the part the next label must match.
		var part *string
		switch {
		case instance != "":
			part = &instance
		case service != "":
			part = &service
		default:
			part = &domain
		}

		if res := compareLabel(msg[pos+1:pos+1+n], *part); res != 0 {
			return res, nil
		}

		// The label matched the head of the part; consume it.
		if n > len(*part) {
			return 1, nil
		}
		rest := (*part)[n:]
		if rest != "" && rest[0] != '.' {
			// Encoded name ends the label where the part does not.
			return -1, nil
		}
		rest = strings.TrimPrefix(rest, ".")
		*part = rest

		pos += 1 + n
	}

	return 0, malformedCompare(pos)
}

// CompareEncodedName compares two encoded names that may live in different
// messages with different compression layouts. Same conventions as
// CompareName.
func CompareEncodedName(msg1 []byte, off1 int, msg2 []byte, off2 int) (int, error) {
	pos1, pos2 := off1, off2
	depth1, depth2 := 0, 0

	for pos1 < len(msg1) && pos2 < len(msg2) {
		// Resolve compression on either side before looking at labels.
		if int(msg1[pos1]) >= protocol.CompressionTag {
			if pos1+1 >= len(msg1) {
				return 0, malformedCompare(pos1)
			}
			depth1++
			if depth1 > protocol.MaxNameRecursion {
				return 0, malformedCompare(pos1)
			}
			pos1 = (int(msg1[pos1])&^protocol.CompressionTag)<<8 | int(msg1[pos1+1])
			continue
		}
		if int(msg2[pos2]) >= protocol.CompressionTag {
			if pos2+1 >= len(msg2) {
				return 0, malformedCompare(pos2)
			}
			depth2++
			if depth2 > protocol.MaxNameRecursion {
				return 0, malformedCompare(pos2)
			}
			pos2 = (int(msg2[pos2])&^protocol.CompressionTag)<<8 | int(msg2[pos2+1])
			continue
		}

		n1 := int(msg1[pos1])
		n2 := int(msg2[pos2])

		if n1 == 0 || n2 == 0 {
			switch {
			case n1 < n2:
				return -1, nil
			case n1 > n2:
				return 1, nil
			}
			return 0, nil
		}

		if pos1+1+n1 > len(msg1) || pos2+1+n2 > len(msg2) {
			return 0, malformedCompare(pos1)
		}

		min := n1
		if n2 < min {
			min = n2
		}
		for i := 0; i < min; i++ {
			a := lower(msg1[pos1+1+i])
			b := lower(msg2[pos2+1+i])
			if a != b {
				if a < b {
					return -1, nil
				}
				return 1, nil
			}
		}
		if n1 != n2 {
			if n1 < n2 {
				return -1, nil
			}
			return 1, nil
		}

		pos1 += 1 + n1
		pos2 += 1 + n2
	}

	return 0, malformedCompare(pos1)
}

// compareLabel compares an encoded label against the head of a dotted name
// part, byte-wise and case-insensitively. A part that runs out (or hits a
// separator) inside the label compares as earlier.
func compareLabel(label []byte, part string) int {
	for i := 0; i < len(label); i++ {
		a := lower(label[i])
		var b byte
		if i < len(part) {
			b = lower(part[i])
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	return 0
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func malformedCompare(off int) error {
	return &errors.WireFormatError{
		Operation: "compare name",
		Offset:    off,
		Message:   "malformed name",
	}
}
