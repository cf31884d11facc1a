package header

import "github.com/xuanhao44/net-lab-2023/internal/core"

// Checksum returns the Internet checksum (RFC 1071) of b. An odd trailing
// byte is summed as if followed by a zero byte.
func Checksum(b []byte) uint16 {
	return ^fold(sum(0, b))
}

// TransportChecksum returns the UDP/TCP checksum of seg, including the
// pseudo-header built from src, dst and proto. The checksum field inside seg
// must be zero, or the result is zero when seg is intact.
func TransportChecksum(src, dst core.IPv4, proto core.IPProtocol, seg []byte) uint16 {
	var pseudo [12]byte
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[9] = uint8(proto)
	pseudo[10] = byte(len(seg) >> 8)
	pseudo[11] = byte(len(seg))
	return ^fold(sum(sum(0, pseudo[:]), seg))
}

func sum(acc uint64, b []byte) uint64 {
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		acc += uint64(b[i])<<8 | uint64(b[i+1])
	}
	if len(b)&1 == 1 {
		acc += uint64(b[len(b)-1]) << 8
	}
	return acc
}

func fold(acc uint64) uint16 {
	for acc>>16 != 0 {
		acc = acc&0xffff + acc>>16
	}
	return uint16(acc)
}
