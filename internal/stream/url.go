package stream

import (
	"net/url"
	"strings"

	"github.com/agentstation/opsync/pkg/constants"
	"github.com/agentstation/opsync/pkg/errors"
)

// URLFromBase derives the push channel URL from the REST base URL:
// http becomes ws, https becomes wss, and the stream path is appended.
func URLFromBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", errors.NewValidationError("base_url", base, "must be an absolute http(s) URL")
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.NewValidationError("base_url", base, "unsupported scheme "+u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + constants.DefaultStreamPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
