// Package proxyproto decodes PROXY protocol v1 (text) and v2 (binary)
// preambles as emitted by haproxy and compatible load balancers.
package proxyproto

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"github.com/NiceMatters/lwan/pkg/bytesutil"
)

// Info carries the proxied connection endpoints. A LOCAL v2 command
// leaves both endpoints as their zero values.
type Info struct {
	Src netip.AddrPort
	Dst netip.AddrPort
}

const (
	v1LineMax    = 108
	v2HeaderLen  = 16
	v2MaxLen     = 52 // header plus the larger (IPv6) address block
	cmdVerLocal  = 0x20
	cmdVerProxy  = 0x21
	famTCPv4     = 0x11
	famTCPv6     = 0x21
)

func pack4(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

var (
	sigV1 = pack4([]byte("PROX"))
	sigV2 = pack4([]byte("\r\n\r\n"))
)

// Decode inspects the head of b for a PROXY preamble. When no preamble
// is present it returns (b, nil, true): an unproxied connection is not
// an error. On a malformed preamble it returns ok=false. On success the
// returned rest aliases b past the preamble.
func Decode(b []byte) (rest []byte, info *Info, ok bool) {
	if len(b) < 4 {
		return b, nil, true
	}
	switch pack4(b) {
	case sigV1:
		return decodeV1(b)
	case sigV2:
		return decodeV2(b)
	}
	return b, nil, true
}

func decodeV1(b []byte) ([]byte, *Info, bool) {
	limit := v1LineMax
	if len(b) < limit {
		limit = len(b)
	}
	cr := bytes.IndexByte(b[:limit], '\r')
	if cr < len("PROXY ") || cr+1 >= len(b) || b[cr+1] != '\n' {
		return nil, nil, false
	}
	size := cr + 2

	line := b[len("PROXY "):cr]
	protocol, tail, found := bytes.Cut(line, []byte{' '})
	if !found {
		return nil, nil, false
	}
	srcAddr, tail, found := bytes.Cut(tail, []byte{' '})
	if !found {
		return nil, nil, false
	}
	dstAddr, tail, found := bytes.Cut(tail, []byte{' '})
	if !found {
		return nil, nil, false
	}
	srcPort, dstPort, found := bytes.Cut(tail, []byte{' '})
	if !found {
		return nil, nil, false
	}

	var info Info
	switch string(protocol) {
	case "TCP4":
		src, okSrc := parseAddr4(srcAddr)
		dst, okDst := parseAddr4(dstAddr)
		sp, okSP := parsePort(srcPort)
		dp, okDP := parsePort(dstPort)
		if !okSrc || !okDst || !okSP || !okDP {
			return nil, nil, false
		}
		info.Src = netip.AddrPortFrom(src, sp)
		info.Dst = netip.AddrPortFrom(dst, dp)
	case "TCP6":
		src, okSrc := parseAddr6(srcAddr)
		dst, okDst := parseAddr6(dstAddr)
		sp, okSP := parsePort(srcPort)
		dp, okDP := parsePort(dstPort)
		if !okSrc || !okDst || !okSP || !okDP {
			return nil, nil, false
		}
		info.Src = netip.AddrPortFrom(src, sp)
		info.Dst = netip.AddrPortFrom(dst, dp)
	default:
		return nil, nil, false
	}
	return b[size:], &info, true
}

func decodeV2(b []byte) ([]byte, *Info, bool) {
	if len(b) < v2HeaderLen {
		return nil, nil, false
	}
	size := v2HeaderLen + int(binary.BigEndian.Uint16(b[14:16]))
	if size > v2MaxLen || size > len(b) {
		return nil, nil, false
	}

	var info Info
	switch cmdVer := b[12]; cmdVer {
	case cmdVerLocal:
		// Endpoints stay unspecified.
	case cmdVerProxy:
		switch fam := b[13]; fam {
		case famTCPv4:
			if size < v2HeaderLen+12 {
				return nil, nil, false
			}
			src := netip.AddrFrom4([4]byte(b[16:20]))
			dst := netip.AddrFrom4([4]byte(b[20:24]))
			info.Src = netip.AddrPortFrom(src, binary.BigEndian.Uint16(b[24:26]))
			info.Dst = netip.AddrPortFrom(dst, binary.BigEndian.Uint16(b[26:28]))
		case famTCPv6:
			if size < v2HeaderLen+36 {
				return nil, nil, false
			}
			src := netip.AddrFrom16([16]byte(b[16:32]))
			dst := netip.AddrFrom16([16]byte(b[32:48]))
			info.Src = netip.AddrPortFrom(src, binary.BigEndian.Uint16(b[48:50]))
			info.Dst = netip.AddrPortFrom(dst, binary.BigEndian.Uint16(b[50:52]))
		default:
			return nil, nil, false
		}
	default:
		return nil, nil, false
	}
	return b[size:], &info, true
}

func parseAddr4(b []byte) (netip.Addr, bool) {
	a, err := netip.ParseAddr(string(b))
	if err != nil || !a.Is4() {
		return netip.Addr{}, false
	}
	return a, true
}

func parseAddr6(b []byte) (netip.Addr, bool) {
	a, err := netip.ParseAddr(string(b))
	if err != nil || !a.Is6() || a.Is4In6() {
		return netip.Addr{}, false
	}
	return a, true
}

func parsePort(b []byte) (uint16, bool) {
	n := bytesutil.ParseInt64(b, -1)
	if n < 0 || n > 65535 {
		return 0, false
	}
	return uint16(n), true
}
