package identity

import "fmt"

// poolID builds the canonical pool key for an identity. The protocol suffix
// keeps an address that serves both HTTP and SOCKS as two distinct entries.
func poolID(address string, port int, protocol string) string {
	suffix := "H"
	switch protocol {
	case "socks4", "socks5":
		suffix = "S"
	case "tls-tunnel":
		suffix = "T"
	}
	return fmt.Sprintf("%s:%d-%s", address, port, suffix)
}
