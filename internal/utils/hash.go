package utils

import "hash/fnv"

// StableHash is FNV-1a over s. It does not change between runs or builds.
func StableHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Bucket maps key onto [0, n). It panics if n is not positive.
func Bucket(key string, n int) int {
	if n <= 0 {
		panic("utils: bucket count must be positive")
	}
	return int(StableHash(key) % uint64(n))
}
