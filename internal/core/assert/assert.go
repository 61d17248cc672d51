// Package assert holds development-build invariant checks.
//
// Builds tagged `release` compile Enabled to false; callers then rely on the
// typed error they return alongside every assertion.
package assert

import "fmt"

// That panics with the formatted message when cond is false and assertions
// are enabled.
func That(cond bool, format string, args ...any) {
	if Enabled && !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

// NoError panics when err is non-nil and assertions are enabled. It returns
// err unchanged so call sites can write `return assert.NoError(err)`.
func NoError(err error) error {
	if Enabled && err != nil {
		panic("assertion failed: " + err.Error())
	}
	return err
}
