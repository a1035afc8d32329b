package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// privateRanges lists the private/reserved CIDR blocks a webhook action must
// never be allowed to reach.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var parsedRanges []*net.IPNet

func init() {
	for _, cidr := range privateRanges {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		parsedRanges = append(parsedRanges, ipnet)
	}
}

// ValidateURL rejects any URL that is not plain http/https or that resolves
// to a private/reserved address, so an automation rule's webhook action
// can't be used to reach internal infrastructure.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.WrapError("security.ValidateURL", domain.KindValidation, err, "invalid URL")
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return domain.NewError("security.ValidateURL", domain.KindValidation,
			fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return domain.NewError("security.ValidateURL", domain.KindValidation, "empty hostname")
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return domain.NewError("security.ValidateURL", domain.KindValidation,
				fmt.Sprintf("IP %s is private/reserved", ip))
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return domain.WrapError("security.ValidateURL", domain.KindValidation, err, "DNS lookup failed")
	}
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return domain.NewError("security.ValidateURL", domain.KindValidation,
				fmt.Sprintf("host %s resolves to private IP %s", host, ip))
		}
	}
	return nil
}

// IsPrivateIP reports whether ip falls within any private/reserved range.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range parsedRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
