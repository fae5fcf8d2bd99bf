package mcphub

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpBackendClient speaks streamable-HTTP MCP: each JSON-RPC request is
// POSTed and the single JSON-RPC response read back from the body, unlike
// the stdio backends' persistent stdin/stdout stream.
type httpBackendClient struct {
	url    string
	client *http.Client
}

func newHTTPBackendClient(url string) *httpBackendClient {
	return &httpBackendClient{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *httpBackendClient) send(line []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(line))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("mcp http backend returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
