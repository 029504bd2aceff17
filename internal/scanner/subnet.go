package scanner

import (
	"iter"
	"net/netip"
)

// hosts yields every address of prefix in ascending order. For IPv4 ranges
// larger than /31 the network and broadcast addresses are skipped.
func hosts(prefix netip.Prefix) iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		prefix = prefix.Masked()
		first := prefix.Addr()
		skipEdges := first.Is4() && prefix.Bits() < 31

		for addr := first; addr.IsValid() && prefix.Contains(addr); addr = addr.Next() {
			if skipEdges && (addr == first || !prefix.Contains(addr.Next())) {
				continue
			}
			if !yield(addr) {
				return
			}
		}
	}
}
