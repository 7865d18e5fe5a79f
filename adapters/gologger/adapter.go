// Package gologger resolves the structured logger every package in the
// engine shares, following the teacher's provider-over-direct-logger
// precedence so a caller can hand in either a per-request provider or a
// single shared logger and get the same fallback behavior either way.
package gologger

import (
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}
