package codec

import (
	"encoding/base64"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("base64 payload is not valid UTF-8")

// DecodeBase64 decodes s after padding it to a multiple of 4 characters.
// Both the standard and the URL-safe alphabets are accepted, and embedded
// whitespace (line-wrapped subscriptions) is ignored. The result must be UTF-8.
func DecodeBase64(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return "", errEmptyPayload
	}
	s = strings.TrimRight(s, "=")
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}

	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var urlErr error
		b, urlErr = base64.URLEncoding.DecodeString(s)
		if urlErr != nil {
			return "", err
		}
	}
	if !utf8.Valid(b) {
		return "", errInvalidUTF8
	}
	return string(b), nil
}

// splitFragment cuts "#name" off a link body and URL-unescapes the name.
// A fragment that is not valid percent-encoding is kept verbatim.
func splitFragment(s string) (body, name string) {
	body, frag, ok := strings.Cut(s, "#")
	if !ok {
		return s, ""
	}
	if decoded, err := url.PathUnescape(frag); err == nil {
		frag = decoded
	}
	return body, strings.TrimSpace(frag)
}

// splitHostPort parses "host:port" and "[v6]:port" into a host and a port in 1..65535.
func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	if port <= 0 || port > 65535 {
		return "", 0, errors.New("port out of range: " + portStr)
	}
	return host, port, nil
}
