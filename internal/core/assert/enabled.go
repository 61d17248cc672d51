//go:build !release

package assert

// Enabled reports whether assertions panic in this build.
const Enabled = true
