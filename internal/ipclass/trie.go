// Package ipclass implements the priority-ordered IP classifier: TOR, cloud,
// datacenter, and residential matchers feeding a single classify operation,
// plus the longest-prefix-match structure each network-range matcher uses.
package ipclass

import (
	"net/netip"
	"sort"
)

// PrefixSet is a longest-prefix-match structure over CIDR blocks. Prefixes
// are bucketed by length and each bucket's masked addresses are kept sorted,
// so a lookup tries the longest buckets first and binary-searches each one.
type PrefixSet struct {
	buckets map[int][]bucketEntry // prefix length -> sorted entries
	lengths []int                 // descending
}

type bucketEntry struct {
	key   [16]byte // masked address, zero-extended to 16 bytes for uniform comparison
	label string
}

// NewPrefixSet builds a PrefixSet from a list of CIDR strings, each
// associated with a label (e.g. the provider name). Malformed entries are
// skipped.
func NewPrefixSet(cidrs map[string]string) *PrefixSet {
	buckets := make(map[int][]bucketEntry)
	for cidr, label := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		prefix = prefix.Masked()
		length := prefix.Bits()
		buckets[length] = append(buckets[length], bucketEntry{key: to16(prefix.Addr()), label: label})
	}

	lengths := make([]int, 0, len(buckets))
	for l, entries := range buckets {
		sort.Slice(entries, func(i, j int) bool {
			return lessKey(entries[i].key, entries[j].key)
		})
		buckets[l] = entries
		lengths = append(lengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lengths)))

	return &PrefixSet{buckets: buckets, lengths: lengths}
}

// Lookup returns the label of the longest matching prefix containing ip, and
// whether any match was found.
func (p *PrefixSet) Lookup(ip netip.Addr) (string, bool) {
	if !ip.IsValid() {
		return "", false
	}
	for _, length := range p.lengths {
		masked, ok := maskTo(ip, length)
		if !ok {
			continue
		}
		entries := p.buckets[length]
		key := to16(masked)
		idx := sort.Search(len(entries), func(i int) bool { return !lessKey(entries[i].key, key) })
		if idx < len(entries) && entries[idx].key == key {
			return entries[idx].label, true
		}
	}
	return "", false
}

// Len reports the total number of loaded prefixes, used by staleness checks
// and stats reporting.
func (p *PrefixSet) Len() int {
	n := 0
	for _, entries := range p.buckets {
		n += len(entries)
	}
	return n
}

func maskTo(ip netip.Addr, bits int) (netip.Addr, bool) {
	prefix := netip.PrefixFrom(ip, bits)
	if !prefix.IsValid() {
		return netip.Addr{}, false
	}
	return prefix.Masked().Addr(), true
}

func to16(a netip.Addr) [16]byte {
	return a.As16()
}

func lessKey(a, b [16]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
