package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"finbot/internal/domain"
)

// Key builds a cache key of the form
//
//	{prefix}:{dataType}:{source}:{SYMBOL}[:params_{hash}]
//
// The params hash is the first 8 hex chars of the md5 of the canonical JSON
// encoding of the params (keys sorted), so the same params always produce
// the same key regardless of map iteration order.
func Key(prefix, dataType, source, symbol string, params map[string]string) string {
	parts := []string{prefix, dataType, source, domain.NormalizeSymbol(symbol)}
	if len(params) > 0 {
		parts = append(parts, "params_"+hashParams(params))
	}
	return strings.Join(parts, ":")
}

func hashParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Build the canonical encoding by hand; json.Marshal of a map already
	// sorts keys, but being explicit keeps the key format stable.
	ordered := make([][2]string, len(keys))
	for i, k := range keys {
		ordered[i] = [2]string{k, params[k]}
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, kv := range ordered {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(kv[0])
		vb, _ := json.Marshal(kv[1])
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:8]
}
