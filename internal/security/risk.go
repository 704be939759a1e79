// Package security holds the session-facing security services: risk
// heuristics, the capped event/alert history, CSRF tokens, and the audit
// service that ties them together.
package security

import (
	"net/netip"
	"strings"

	"github.com/telegrid/backend/internal/domain"
)

const (
	scoreUnseenIP    = 30
	scoreProxyRange  = 50
	scoreMalformedIP = 100

	riskHighThreshold   = 70
	riskMediumThreshold = 30
)

// proxyRanges is a coarse heuristic for anonymizing proxies and public DNS
// relays. Not a reputation feed; it only has to flag obviously odd origins.
var proxyRanges = []netip.Prefix{
	netip.MustParsePrefix("8.8.8.0/24"),
	netip.MustParsePrefix("8.8.4.0/24"),
	netip.MustParsePrefix("1.1.1.0/24"),
	netip.MustParsePrefix("9.9.9.0/24"),
	netip.MustParsePrefix("185.220.100.0/22"),
	netip.MustParsePrefix("199.87.154.0/24"),
}

// IPRiskScore scores how anomalous an origin address looks given the IPs
// previously seen for the user. Private and loopback addresses score zero.
func IPRiskScore(ip string, seen []string) int {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return scoreMalformedIP
	}
	if addr.IsPrivate() || addr.IsLoopback() {
		return 0
	}

	score := 0
	known := false
	for _, s := range seen {
		if s == ip {
			known = true
			break
		}
	}
	if !known {
		score += scoreUnseenIP
	}
	for _, p := range proxyRanges {
		if p.Contains(addr) {
			score += scoreProxyRange
			break
		}
	}
	return score
}

// RiskLevel buckets a numeric score into a severity.
func RiskLevel(score int) domain.Severity {
	switch {
	case score >= riskHighThreshold:
		return domain.SeverityHigh
	case score >= riskMediumThreshold:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

var toolingSignatures = []string{
	"curl", "wget", "python", "java/", "go-http-client", "okhttp",
	"postman", "insomnia", "httpie", "libwww", "scrapy", "ruby",
	"php/", "perl", "node-fetch", "axios", "apache-httpclient",
}

var browserSignatures = []string{
	"mozilla", "chrome", "safari", "firefox", "edge", "opera",
}

// SuspiciousUserAgent reports whether a user-agent string looks like a
// script or CLI client rather than a browser. Empty strings are suspicious.
func SuspiciousUserAgent(ua string) bool {
	if strings.TrimSpace(ua) == "" {
		return true
	}
	lower := strings.ToLower(ua)
	for _, sig := range toolingSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	for _, sig := range browserSignatures {
		if strings.Contains(lower, sig) {
			return false
		}
	}
	return true
}

// countryRanges is a deliberately coarse static mapping used for the
// country-level location jump check. Real geo resolution would need an IP
// intelligence source; country granularity is all the heuristic consumes.
var countryRanges = []struct {
	prefix  netip.Prefix
	country string
}{
	{netip.MustParsePrefix("3.0.0.0/8"), "US"},
	{netip.MustParsePrefix("13.0.0.0/8"), "US"},
	{netip.MustParsePrefix("52.0.0.0/8"), "US"},
	{netip.MustParsePrefix("34.0.0.0/8"), "US"},
	{netip.MustParsePrefix("77.88.0.0/16"), "RU"},
	{netip.MustParsePrefix("95.108.0.0/15"), "RU"},
	{netip.MustParsePrefix("101.0.0.0/8"), "CN"},
	{netip.MustParsePrefix("114.0.0.0/8"), "CN"},
	{netip.MustParsePrefix("51.38.0.0/16"), "FR"},
	{netip.MustParsePrefix("62.210.0.0/16"), "FR"},
	{netip.MustParsePrefix("85.214.0.0/16"), "DE"},
	{netip.MustParsePrefix("88.198.0.0/16"), "DE"},
	{netip.MustParsePrefix("203.0.113.0/24"), "AU"},
}

// CountryOf returns the coarse ISO country for an address, or "" when the
// address is private, malformed, or outside the known ranges.
func CountryOf(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.IsPrivate() || addr.IsLoopback() {
		return ""
	}
	for _, r := range countryRanges {
		if r.prefix.Contains(addr) {
			return r.country
		}
	}
	return ""
}

// LocationChanged reports a significant country-level jump between two IPs.
// Distance is not computed; only a country mismatch counts, and only when
// both countries resolve.
func LocationChanged(previousIP, currentIP string) bool {
	prev := CountryOf(previousIP)
	curr := CountryOf(currentIP)
	return prev != "" && curr != "" && prev != curr
}
