// Package version provides build-time version information.
package version

import (
	"fmt"
	"regexp"
	"strconv"

	"tcon/pkg/protocol"
)

// version is set at build time via -ldflags.
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the current version.
func String() string {
	return version
}

// Banner is the line printed by `tcon version`. The supervisor parses it to
// accept or reject a worker executable.
func Banner() string {
	return fmt.Sprintf("tcon %s (protocol %d)", version, protocol.Version)
}

var bannerRe = regexp.MustCompile(`(?m)^tcon (\S+) \(protocol (\d+)\)\s*$`) //nolint:gochecknoglobals // compiled once

// ParseBanner extracts the version and protocol number from `tcon version`
// output. ok is false if the output does not carry a tcon banner.
func ParseBanner(out string) (ver string, proto int, ok bool) {
	m := bannerRe.FindStringSubmatch(out)
	if m == nil {
		return "", 0, false
	}
	proto, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], proto, true
}
