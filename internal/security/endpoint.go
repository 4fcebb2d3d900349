package security

import (
	"fmt"
	"net/url"
)

// ValidateEndpointURL checks that a configured endpoint URL is usable for
// server-side requests. The Shkeeper API and callback URLs pass through here
// at startup so a typo fails fast instead of surfacing as a runtime 502.
func ValidateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}

	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}
