package logging

import "net/url"

// redirectHost keeps session identifiers carried in redirect queries out of the logs.
func redirectHost(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Host
}
