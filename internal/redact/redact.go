// Package redact provides utilities for redacting sensitive information from strings
// before they are logged or returned by the diagnostics API. Widget fetch URLs
// routinely carry API keys in their query strings; this package keeps those keys
// out of logs and lifecycle event dumps.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"

	// urlPlaceholder must survive URL serialization unescaped
	urlPlaceholder = "REDACTED"
)

// Precompiled regex patterns
var (
	// Connection strings with embedded credentials
	connCredRegex = regexp.MustCompile(`(?i)\b(mqtts?|wss?|postgres|mysql|amqp|redis)://[^/@\s]+@`)

	// Credentials and tokens
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)
	apiKeyRegex   = regexp.MustCompile(
		`(?i)(api[_-]?key|appid|token|secret|key|access|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)
	// JWT token pattern - matches the standard three-part base64url-encoded JWT token format
	jwtTokenRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)

	patterns = []struct {
		re          *regexp.Regexp
		placeholder string
	}{
		{connCredRegex, RedactedCredentialPlaceholder},
		{jwtTokenRegex, RedactedJWTPlaceholder},
		{passwordRegex, RedactedCredentialPlaceholder},
		{apiKeyRegex, RedactedKeyPlaceholder},
	}

	// Query parameters whose values are always masked, compared case-insensitively
	secretParams = map[string]bool{
		"appid":         true,
		"apikey":        true,
		"api_key":       true,
		"api-key":       true,
		"key":           true,
		"token":         true,
		"access_token":  true,
		"auth":          true,
		"secret":        true,
		"client_secret": true,
		"password":      true,
		"pass":          true,
	}
)

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, p := range patterns {
		result = p.re.ReplaceAllString(result, p.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}

// URL masks secret query parameter values and userinfo passwords in raw while
// keeping the rest of the URL readable. Anything that does not parse as an
// absolute URL is passed through String instead.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return String(raw)
	}

	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), urlPlaceholder)
		}
	}

	if u.RawQuery != "" {
		u.RawQuery = redactQuery(u.RawQuery)
	}

	return u.String()
}

// redactQuery rewrites secret parameter values in place, preserving order.
func redactQuery(rawQuery string) string {
	parts := strings.Split(rawQuery, "&")
	for i, part := range parts {
		name, _, hasValue := strings.Cut(part, "=")
		if !hasValue {
			continue
		}
		unescaped, err := url.QueryUnescape(name)
		if err != nil {
			unescaped = name
		}
		if secretParams[strings.ToLower(unescaped)] {
			parts[i] = name + "=" + urlPlaceholder
		}
	}
	return strings.Join(parts, "&")
}
