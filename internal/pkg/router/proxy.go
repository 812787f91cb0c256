package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// TrustProxies makes c.IP() read the client address from header, but only
// for requests whose remote address is one of trusted (IPs or CIDR ranges).
// With no header or no trusted proxies the remote address is used as is.
func TrustProxies(cfg *fiber.Config, header string, trusted []string) {
	header = strings.TrimSpace(header)
	if header == "" || len(trusted) == 0 {
		return
	}
	cfg.ProxyHeader = header
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = trusted
	cfg.EnableIPValidation = true
}

// SplitProxyList parses a comma separated TRUSTED_PROXIES value.
func SplitProxyList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
