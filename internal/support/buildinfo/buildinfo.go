// Package buildinfo carries the version stamped at build time.
package buildinfo

// Version is overridden by the linker in release builds:
//
//	go build -ldflags "-X titanh/internal/support/buildinfo.Version=v1.2.3"
var Version = "dev"
