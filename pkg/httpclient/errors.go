package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RemoteError is a decoded non-2xx response. It understands both the
// {"error":{"code","message"}} envelope written by pkg/httputil and the flat
// {"code","message","details","hint"} body returned by PostgREST-style BaaS
// endpoints.
type RemoteError struct {
	Service string
	Status  int
	Code    string
	Message string
	Hint    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned status %d (%s): %s", e.Service, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Message)
}

type envelopeBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type flatBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// DecodeError reads and closes the body of a non-2xx response.
func DecodeError(resp *http.Response, service string) *RemoteError {
	defer func() { _ = resp.Body.Close() }()

	re := &RemoteError{Service: service, Status: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		re.Message = fmt.Sprintf("failed to read body: %v", err)
		return re
	}

	var env envelopeBody
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		re.Code, re.Message = env.Error.Code, env.Error.Message
		return re
	}

	var flat flatBody
	if json.Unmarshal(body, &flat) == nil && flat.Message != "" {
		re.Code, re.Message, re.Hint = flat.Code, flat.Message, flat.Hint
		if flat.Details != "" {
			re.Message += ": " + flat.Details
		}
		return re
	}

	re.Message = string(body)
	return re
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
