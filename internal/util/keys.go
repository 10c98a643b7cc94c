package util

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// maxPlainSig keeps human-readable keys for typical queries; anything longer
// collapses to a short hash so provider key sizes stay bounded.
const maxPlainSig = 64

// QueryKey returns the deterministic cache key "<resource>:<signature>" for a
// query described by a projection and an equality-match map. Equal queries
// always produce equal keys regardless of map iteration order.
func QueryKey(resource, sel string, match map[string]any) string {
	return resource + ":" + Signature(sel, match)
}

// Signature canonicalizes the query portion of a key.
func Signature(sel string, match map[string]any) string {
	var b strings.Builder
	b.WriteString(sel)
	b.WriteByte('?')
	writeMatch(&b, match)

	sig := b.String()
	if len(sig) <= maxPlainSig {
		return sig
	}
	sum := sha256.Sum256([]byte(sig))
	return fmt.Sprintf("%x", sum)[:16]
}

func writeMatch(b *strings.Builder, match map[string]any) {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		writeValue(b, match[k])
	}
}

// writeValue formats scalars with %v and recurses into nested maps in sorted
// key order, since map formatting is otherwise nondeterministic.
func writeValue(b *strings.Builder, v any) {
	if m, ok := v.(map[string]any); ok {
		b.WriteByte('{')
		writeMatch(b, m)
		b.WriteByte('}')
		return
	}
	fmt.Fprintf(b, "%v", v)
}
