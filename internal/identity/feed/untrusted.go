package feed

import (
	"fmt"
	"time"

	"lawcrawler/internal/identity/model"
)

// newUntrusted builds a feed identity. It enters the pool dead and only
// becomes selectable after a passing health check.
func newUntrusted(address string, port int, protocol, source string) *model.NetworkIdentity {
	suffix := "H"
	if protocol == "socks4" || protocol == "socks5" {
		suffix = "S"
	}
	return &model.NetworkIdentity{
		ID:            fmt.Sprintf("%s:%d-%s", address, port, suffix),
		Kind:          model.KindProxied,
		Tier:          model.TierFree,
		Address:       address,
		Port:          port,
		Protocol:      protocol,
		Source:        source,
		Alive:         false,
		LastCheckedAt: time.Time{},
	}
}
