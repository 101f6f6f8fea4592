package tahan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultUpstreamTimeout bounds one upstream HTTP exchange.
const DefaultUpstreamTimeout = 30 * time.Second

// credentialQueryParam carries the credential token on the request URL.
const credentialQueryParam = "key"

// HTTPTransport talks to the metered inference endpoint over HTTP. One
// endpoint URL per service type; the credential token travels as a query
// parameter. Combined calls wrap the payloads in a delimited prompt and
// expect the reply text to echo per-item response markers.
type HTTPTransport struct {
	client    *http.Client
	endpoints map[ServiceType]string
}

// NewHTTPTransport builds a transport for the given endpoint map. client may
// be nil, in which case a default client with DefaultUpstreamTimeout is used.
func NewHTTPTransport(client *http.Client, endpoints map[ServiceType]string) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: DefaultUpstreamTimeout}
	}
	eps := make(map[ServiceType]string, len(endpoints))
	for svc, url := range endpoints {
		eps[svc] = url
	}
	return &HTTPTransport{client: client, endpoints: eps}
}

// Do issues one single-item call and returns the reply text.
func (t *HTTPTransport) Do(ctx context.Context, cred Credential, service ServiceType, payload []byte) ([]byte, error) {
	body, err := t.post(ctx, cred, service, payload)
	if err != nil {
		return nil, err
	}
	return t.extractText(service, body)
}

// DoBatch combines the payloads into one delimited prompt, issues a single
// call, and returns the raw combined reply text for demultiplexing.
func (t *HTTPTransport) DoBatch(ctx context.Context, cred Credential, service ServiceType, payloads [][]byte) ([]byte, error) {
	combined := buildCombinedPrompt(payloads)
	body, err := t.post(ctx, cred, service, combined)
	if err != nil {
		return nil, err
	}
	return t.extractText(service, body)
}

func (t *HTTPTransport) post(ctx context.Context, cred Credential, service ServiceType, payload []byte) ([]byte, error) {
	url, ok := t.endpoints[service]
	if !ok || url == "" {
		return nil, &GatewayError{
			Type:    ErrorTypeValidation,
			Service: service,
			Message: "no endpoint configured for service",
		}
	}

	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	url = url + sep + credentialQueryParam + "=" + cred.Token

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, newGatewayError(ErrorTypeValidation, service, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newGatewayError(ErrorTypeTimeout, service, "upstream call timed out", err)
		}
		return nil, newGatewayError(ErrorTypeNetwork, service, "upstream call failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newGatewayError(ErrorTypeNetwork, service, "reading upstream reply", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &GatewayError{
			Type:       ErrorTypeRateLimited,
			Service:    service,
			Message:    "upstream rate limit",
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode >= 500:
		return nil, &GatewayError{
			Type:       ErrorTypeServer,
			Service:    service,
			Message:    fmt.Sprintf("upstream server error: %s", http.StatusText(resp.StatusCode)),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &GatewayError{
			Type:       ErrorTypeServer,
			Service:    service,
			Message:    fmt.Sprintf("unexpected upstream status: %s", http.StatusText(resp.StatusCode)),
			StatusCode: resp.StatusCode,
		}
	}
	return body, nil
}

// upstreamReply is the envelope the inference endpoint wraps its answer in.
type upstreamReply struct {
	Text string `json:"text"`
}

// extractText unwraps the reply envelope. A body that is not the expected
// envelope but is non-empty passes through as-is; some deployments return the
// bare text.
func (t *HTTPTransport) extractText(service ServiceType, body []byte) ([]byte, error) {
	var reply upstreamReply
	if err := json.Unmarshal(body, &reply); err == nil && reply.Text != "" {
		return []byte(reply.Text), nil
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &GatewayError{Type: ErrorTypeParse, Service: service, Message: "empty upstream reply"}
	}
	return trimmed, nil
}

// buildCombinedPrompt wraps the payloads in numbered request markers and
// instructs the model to answer each under its matching response marker.
func buildCombinedPrompt(payloads [][]byte) []byte {
	var b strings.Builder
	b.WriteString("Answer each request separately.\n\n")
	for i, p := range payloads {
		b.WriteString(batchRequestMarker(i + 1))
		b.WriteString(" ")
		b.Write(p)
		b.WriteString("\n\n")
	}
	b.WriteString("Respond to each request under its own marker:\n")
	for i := range payloads {
		b.WriteString(batchResponseMarker(i + 1))
		b.WriteString("\n")
	}
	return []byte(b.String())
}
