package browser

import (
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// maxScriptBytes bounds browser_eval input.
const maxScriptBytes = 100000

// PolicyConfig controls which pages the provider may open.
type PolicyConfig struct {
	AllowFileURLs      bool     `json:"allow_file_urls"`
	AllowLocalhostURLs bool     `json:"allow_localhost_urls"`
	AllowedDomains     []string `json:"allowed_domains,omitempty"`
	BlockedDomains     []string `json:"blocked_domains,omitempty"`
}

// Policy checks URLs, scripts and selectors before they reach the browser.
type Policy struct {
	cfg    PolicyConfig
	logger zerolog.Logger
}

// NewPolicy returns a policy for cfg. Violations are logged at warn level.
func NewPolicy(cfg PolicyConfig, logger zerolog.Logger) *Policy {
	return &Policy{cfg: cfg, logger: logger}
}

// CheckURL returns an *Error with ErrCodeSecurity when rawURL may not be
// opened, or ErrCodeValidation when it cannot be parsed.
func (p *Policy) CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return newError(ErrCodeValidation, nil, "Invalid URL: %s", rawURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "file":
		if !p.cfg.AllowFileURLs {
			return p.violation("file_url_blocked", rawURL, "file:// URLs are not allowed")
		}
		return nil
	default:
		return p.violation("scheme_blocked", rawURL, "URL scheme %q is not allowed", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return newError(ErrCodeValidation, nil, "URL has no host: %s", rawURL)
	}
	if isLocalhost(host) && !p.cfg.AllowLocalhostURLs {
		return p.violation("localhost_blocked", rawURL, "localhost URLs are not allowed")
	}
	if len(p.cfg.AllowedDomains) > 0 && !matchAny(host, p.cfg.AllowedDomains) {
		return p.violation("domain_not_allowed", rawURL, "Domain not in allowed list: %s", host)
	}
	if matchAny(host, p.cfg.BlockedDomains) {
		return p.violation("domain_blocked", rawURL, "Domain is blocked: %s", host)
	}
	return nil
}

// CheckScript rejects scripts that load or construct further code.
func (p *Policy) CheckScript(script string) error {
	if strings.TrimSpace(script) == "" {
		return newError(ErrCodeValidation, nil, "Script is required")
	}
	if len(script) > maxScriptBytes {
		return newError(ErrCodeValidation, nil, "Script is too large: %d bytes (max %d)", len(script), maxScriptBytes)
	}

	lower := strings.ToLower(script)
	for _, dp := range dangerousScriptPatterns {
		if strings.Contains(lower, dp.pattern) {
			return p.violation("script_rejected", dp.pattern, "Script contains a disallowed pattern: %s", dp.reason)
		}
	}
	return nil
}

// CheckSelector rejects empty selectors and ones carrying markup or handlers.
func (p *Policy) CheckSelector(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return newError(ErrCodeValidation, nil, "Selector is required")
	}
	lower := strings.ToLower(selector)
	for _, pattern := range []string{"<script", "javascript:", "onerror=", "onload="} {
		if strings.Contains(lower, pattern) {
			return p.violation("selector_rejected", selector, "Selector contains a disallowed pattern")
		}
	}
	return nil
}

func (p *Policy) violation(kind, subject, format string, args ...any) error {
	p.logger.Warn().Str("violation", kind).Str("subject", subject).Msg("Browser policy violation")
	return newError(ErrCodeSecurity, nil, format, args...)
}

var dangerousScriptPatterns = []struct {
	pattern string
	reason  string
}{
	{"eval(", "eval() runs arbitrary code"},
	{"new function", "the Function constructor runs arbitrary code"},
	{"import(", "dynamic imports load external code"},
	{"<script", "script tags"},
	{"javascript:", "javascript: URLs"},
	{"vbscript:", "vbscript: URLs"},
}

func isLocalhost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func matchAny(host string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchDomain(host, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// matchDomain supports exact names, "*.example.com" and ".example.com". The
// last two also match example.com itself.
func matchDomain(host, pattern string) bool {
	switch {
	case host == pattern:
		return true
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix) || host == suffix[1:]
	case strings.HasPrefix(pattern, "."):
		return strings.HasSuffix(host, pattern) || host == pattern[1:]
	}
	return false
}
