package netutil_test

import (
	"testing"

	"github.com/zynqcloud/nimbusfs/internal/netutil"
)

func TestAdvertisedAddressPrefersConfigured(t *testing.T) {
	addr := netutil.AdvertisedAddress(9100, "name1.internal")
	if addr != "name1.internal:9100" {
		t.Errorf("expected name1.internal:9100, got %q", addr)
	}
}

func TestAdvertisedAddressFallsBackWhenUnconfigured(t *testing.T) {
	addr := netutil.AdvertisedAddress(9100, "")
	if addr == "" {
		t.Error("expected a non-empty fallback address")
	}
}
