package crawler

import (
	"fmt"
	"net/url"
)

// normalizeURL strips the fragment from an absolute URL. Web pages need a
// host; local files need a path. Other schemes (ex: mailto or ftp) are
// rejected.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unable to parse url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("url %q has no host", raw)
		}
	case "file":
		if u.Path == "" || (u.Host != "" && u.Host != "localhost") {
			return "", fmt.Errorf("file url %q needs an absolute local path", raw)
		}
	default:
		return "", fmt.Errorf("unsupported scheme in %q", raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
