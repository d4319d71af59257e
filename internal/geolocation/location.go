package geolocation

import "net"

// Location is the best-effort origin of an address. Both fields may be empty.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

func (l Location) IsEmpty() bool {
	return l.Country == "" && l.City == ""
}

// routable reports whether ip is worth asking a provider about. Private,
// loopback, link-local, unspecified and unparsable addresses are not.
func routable(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !(parsed.IsPrivate() ||
		parsed.IsLoopback() ||
		parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() ||
		parsed.IsMulticast())
}
