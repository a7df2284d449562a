package codec

import "strings"

// escapeKey applies the invertible transform that keeps a user-supplied
// object key from colliding with the placeholder markers {_b:...}/{_s:...}:
// any key beginning with '_' gets its leading underscore doubled. Real
// placeholder keys are emitted directly by the walk (never through this
// function), so they never collide with an escaped user key.
func escapeKey(k string) string {
	if strings.HasPrefix(k, "_") {
		return "_" + k
	}
	return k
}

// unescapeKey reverses escapeKey: a key with a doubled leading underscore
// has one '_' removed; anything else passes through unchanged.
func unescapeKey(k string) string {
	if strings.HasPrefix(k, "__") {
		return k[1:]
	}
	return k
}
