package version_test

import (
	"testing"

	"tcon/internal/version"
	"tcon/pkg/protocol"
)

func TestVersionIsSet(t *testing.T) {
	t.Parallel()

	v := version.String()
	if v == "" {
		t.Fatal("version.String() must not be empty")
	}
}

func TestBannerRoundTrips(t *testing.T) {
	t.Parallel()

	ver, proto, ok := version.ParseBanner(version.Banner() + "\n")
	if !ok {
		t.Fatalf("expected own banner to parse: %q", version.Banner())
	}
	if ver != version.String() || proto != protocol.Version {
		t.Fatalf("expected %s/%d, got %s/%d", version.String(), protocol.Version, ver, proto)
	}
}

func TestParseBanner_RejectsForeignOutput(t *testing.T) {
	t.Parallel()

	for _, out := range []string{"", "other v1.2.3", "tcon dev", "usage: tcon [command]"} {
		if _, _, ok := version.ParseBanner(out); ok {
			t.Errorf("expected %q to be rejected", out)
		}
	}
}
