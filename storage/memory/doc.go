// Package memory implements every storage interface over mutex-guarded maps.
//
// A background goroutine sweeps expired authorization codes and tokens at a
// configurable interval; call Stop to halt it. The store also stands in for
// the external user/account store in tests via SeedUser and
// BumpSessionVersion.
package memory
