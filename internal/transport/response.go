package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/agentstation/opsync/pkg/constants"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/logging"
)

// ReadResponse reads a JSON response body. Non-2xx statuses become
// *errors.APIError and bodies that are not JSON become *errors.ParseError.
func ReadResponse(resp *http.Response, endpoint string) (json.RawMessage, error) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseSize))
	if err != nil {
		return nil, errors.WrapTransport("read", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewAPIError(endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !json.Valid(body) {
		return nil, errors.NewParseError("json", endpoint, "response body is not valid JSON", nil)
	}
	return json.RawMessage(body), nil
}

// DecodeResponse reads a JSON response into target.
func DecodeResponse(resp *http.Response, endpoint string, target any) error {
	body, err := ReadResponse(resp, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", endpoint, err)
	}
	return nil
}
