package ledger

import (
	"encoding/binary"
	"fmt"
)

// AppendVarint encodes n as a CompactSize-style varint (1, 3, 5 or 9
// bytes depending on magnitude) and appends it to dst.
func AppendVarint(dst []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 0xfd)
		return binary.LittleEndian.AppendUint16(dst, uint16(n))
	case n <= 0xffff_ffff:
		dst = append(dst, 0xfe)
		return binary.LittleEndian.AppendUint32(dst, uint32(n))
	default:
		dst = append(dst, 0xff)
		return binary.LittleEndian.AppendUint64(dst, n)
	}
}

// ReadVarint decodes one varint from the front of buf, returning the
// value and the number of bytes consumed. Non-minimal encodings are
// rejected.
func ReadVarint(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, fmt.Errorf("ledger: truncated varint")
	}
	tag := buf[0]
	switch {
	case tag < 0xfd:
		return uint64(tag), 1, nil
	case tag == 0xfd:
		if len(buf) < 3 {
			return 0, 0, fmt.Errorf("ledger: truncated varint")
		}
		v := binary.LittleEndian.Uint16(buf[1:3])
		if v < 0xfd {
			return 0, 0, fmt.Errorf("ledger: non-minimal varint (0xfd)")
		}
		return uint64(v), 3, nil
	case tag == 0xfe:
		if len(buf) < 5 {
			return 0, 0, fmt.Errorf("ledger: truncated varint")
		}
		v := binary.LittleEndian.Uint32(buf[1:5])
		if v <= 0xffff {
			return 0, 0, fmt.Errorf("ledger: non-minimal varint (0xfe)")
		}
		return uint64(v), 5, nil
	default:
		if len(buf) < 9 {
			return 0, 0, fmt.Errorf("ledger: truncated varint")
		}
		v := binary.LittleEndian.Uint64(buf[1:9])
		if v <= 0xffff_ffff {
			return 0, 0, fmt.Errorf("ledger: non-minimal varint (0xff)")
		}
		return v, 9, nil
	}
}

// appendBytes appends a varint-prefixed byte string: length then data.
func appendBytes(dst []byte, b []byte) []byte {
	dst = AppendVarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// readBytes reads a varint-prefixed byte string from the front of buf.
func readBytes(buf []byte) ([]byte, int, error) {
	n, consumed, err := ReadVarint(buf)
	if err != nil {
		return nil, 0, err
	}
	rest := buf[consumed:]
	if uint64(len(rest)) < n {
		return nil, 0, fmt.Errorf("ledger: truncated byte string")
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, consumed + int(n), nil
}

func appendHash(dst []byte, h Hash) []byte {
	return append(dst, h[:]...)
}

func readHash(buf []byte) (Hash, int, error) {
	var h Hash
	if len(buf) < len(h) {
		return h, 0, fmt.Errorf("ledger: truncated hash")
	}
	copy(h[:], buf[:len(h)])
	return h, len(h), nil
}

func appendAddress(dst []byte, a Address) []byte {
	return append(dst, a[:]...)
}

func readAddress(buf []byte) (Address, int, error) {
	var a Address
	if len(buf) < len(a) {
		return a, 0, fmt.Errorf("ledger: truncated address")
	}
	copy(a[:], buf[:len(a)])
	return a, len(a), nil
}
