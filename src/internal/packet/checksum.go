package packet

import (
	"encoding/binary"

	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
)

// VerifyChecksums validates the IPv4 header checksum and, when present, the
// UDP checksum of a frame accepted by Decode.
func VerifyChecksums(frame []byte) error {
	f, err := Decode(frame)
	if err != nil {
		return err
	}

	if sum := fold(accumulate(0, frame[:IPv4HeaderLen])); sum != 0xffff {
		return errors.Malformed("bad IPv4 header checksum (sum %#04x)", sum)
	}

	// A zero UDP checksum means the sender did not compute one.
	if f.UDP.Checksum == 0 {
		return nil
	}

	totalLen := int(binary.BigEndian.Uint16(frame[2:4]))
	segment := frame[IPv4HeaderLen:totalLen]

	var pseudo [12]byte
	copy(pseudo[0:4], frame[12:16])
	copy(pseudo[4:8], frame[16:20])
	pseudo[9] = frame[9]
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))

	if sum := fold(accumulate(accumulate(0, pseudo[:]), segment)); sum != 0xffff {
		return errors.Malformed("bad UDP checksum (sum %#04x)", sum)
	}
	return nil
}

// accumulate adds data to a running ones' complement sum of 16-bit words.
func accumulate(sum uint32, data []byte) uint32 {
	for len(data) >= 2 {
		sum += uint32(binary.BigEndian.Uint16(data))
		data = data[2:]
	}
	if len(data) == 1 {
		sum += uint32(data[0]) << 8
	}
	return sum
}

func fold(sum uint32) uint16 {
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return uint16(sum)
}
