package cache

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sort"
	"strings"
)

// algorithms 列出支持的摘要算法及其十六进制长度。
var algorithms = map[string]struct {
	newHash func() hash.Hash
	hexLen  int
}{
	"md5":    {md5.New, 32},
	"sha1":   {sha1.New, 40},
	"sha256": {sha256.New, 64},
	"sha512": {sha512.New, 128},
}

// SupportedAlgorithms 返回按名称排序的算法列表。
func SupportedAlgorithms() []string {
	keys := make([]string, 0, len(algorithms))
	for key := range algorithms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeAlgorithm(id string) (string, error) {
	algo := strings.ToLower(strings.TrimSpace(id))
	if _, ok := algorithms[algo]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHash, id)
	}
	return algo, nil
}

func normalizeDigest(algo, digest string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(digest))
	if len(value) != algorithms[algo].hexLen || !isHex(value) {
		return "", fmt.Errorf("%w: %s %q", ErrInvalidDigest, algo, digest)
	}
	return value, nil
}

func isHex(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return value != ""
}

// normalize 校验并规范化 FileDef：算法名小写、摘要小写去空白、同算法的约束合并。
// 返回值的第一个 HashDef 为主摘要。
func (d FileDef) normalize() (FileDef, error) {
	if strings.TrimSpace(d.URL) == "" {
		return FileDef{}, fmt.Errorf("file def: url required")
	}

	out := FileDef{URL: strings.TrimSpace(d.URL)}
	index := map[string]int{}
	for _, def := range d.Hashes {
		if len(def.Hashes) == 0 {
			continue
		}
		algo, err := normalizeAlgorithm(def.ID)
		if err != nil {
			return FileDef{}, err
		}
		values := make([]string, 0, len(def.Hashes))
		for _, raw := range def.Hashes {
			value, err := normalizeDigest(algo, raw)
			if err != nil {
				return FileDef{}, err
			}
			values = append(values, value)
		}
		if pos, ok := index[algo]; ok {
			out.Hashes[pos].Hashes = appendUnique(out.Hashes[pos].Hashes, values...)
			continue
		}
		index[algo] = len(out.Hashes)
		out.Hashes = append(out.Hashes, HashDef{ID: algo, Hashes: appendUnique(nil, values...)})
	}

	if len(out.Hashes) == 0 {
		return FileDef{}, fmt.Errorf("%w: %s", ErrNoHashConstraint, d.URL)
	}
	return out, nil
}

// flightKey 以全部摘要约束作为去重键，主摘要在前。
// 约束不同的调用方各自下载并校验，rename 到同一内容地址是幂等的。
func (d FileDef) flightKey() string {
	parts := make([]string, 0, len(d.Hashes))
	for _, constraint := range d.Hashes {
		values := append([]string(nil), constraint.Hashes...)
		sort.Strings(values)
		parts = append(parts, constraint.ID+":"+strings.Join(values, ","))
	}
	return strings.Join(parts, ";")
}

func appendUnique(dst []string, values ...string) []string {
	for _, value := range values {
		seen := false
		for _, existing := range dst {
			if existing == value {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, value)
		}
	}
	return dst
}
