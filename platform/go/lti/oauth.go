package lti

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Encode percent-encodes s leaving only RFC 3986 unreserved characters.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// NormalizeParameters encodes every pair except oauth_signature, sorts by key then value,
// and joins them as k=v&k=v.
func NormalizeParameters(params url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, values := range params {
		if k == "oauth_signature" {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, pair{Encode(k), Encode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// BaseString builds the signature base string.
func BaseString(method, baseURI string, params url.Values) string {
	return strings.ToUpper(method) + "&" + Encode(baseURI) + "&" + Encode(NormalizeParameters(params))
}

// Sign computes the base64 HMAC-SHA1 signature with an empty token secret.
func Sign(method, baseURI string, params url.Values, consumerSecret string) string {
	mac := hmac.New(sha1.New, []byte(Encode(consumerSecret)+"&"))
	mac.Write([]byte(BaseString(method, baseURI, params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature and compares it in constant time.
func VerifySignature(method, baseURI string, params url.Values, consumerSecret, signature string) bool {
	expected := Sign(method, baseURI, params, consumerSecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// BaseURI rebuilds the absolute URL the consumer signed. publicBase, when set, replaces the
// scheme and host seen by the server (and may add a path prefix); otherwise forwarded headers
// are honoured.
func BaseURI(r *http.Request, publicBase string) string {
	path := r.URL.EscapedPath()

	if publicBase != "" {
		if u, err := url.Parse(strings.TrimRight(publicBase, "/")); err == nil && u.Host != "" {
			return normalizeURI(u.Scheme, u.Host, u.EscapedPath()+path)
		}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwd := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); fwd != "" {
		host = fwd
	}
	return normalizeURI(scheme, host, path)
}

func normalizeURI(scheme, host, path string) string {
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]"
			}
		}
	}
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
