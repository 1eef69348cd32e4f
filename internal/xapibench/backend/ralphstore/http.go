package ralphstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const xapiVersion = "1.0.3"

type httpClient struct {
	baseURL    *url.URL
	username   string
	password   string
	httpClient *http.Client
}

func newHttpClient(baseURL *url.URL, username, password string, timeout time.Duration) httpClient {
	return httpClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type requestParams struct {
	method string
	// path may carry its own query, as the "more" links of the LRS do.
	path   string
	query  url.Values
	body   []byte
	header http.Header
}

type response struct {
	Body    []byte
	Status  int
	Headers http.Header
}

// StatusError is returned for responses the store does not expect.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Status, body)
}

func (hc *httpClient) createRequest(ctx context.Context, params requestParams) (*http.Request, error) {
	if params.method == "" {
		params.method = http.MethodGet
	}
	if params.header == nil {
		params.header = http.Header{}
	}
	if params.body != nil && params.header.Get("Content-Type") == "" {
		params.header.Set("Content-Type", "application/json")
	}
	params.header.Set("X-Experience-API-Version", xapiVersion)

	ref, err := url.Parse(params.path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request path: %w", err)
	}
	u := hc.baseURL.ResolveReference(ref)
	if len(params.query) > 0 {
		q := u.Query()
		for k, vs := range params.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if params.body != nil {
		body = bytes.NewReader(params.body)
	}
	req, err := http.NewRequestWithContext(ctx, params.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = params.header
	if hc.username != "" {
		req.SetBasicAuth(hc.username, hc.password)
	}
	return req, nil
}

func (hc *httpClient) do(ctx context.Context, params requestParams) (response, error) {
	req, err := hc.createRequest(ctx, params)
	if err != nil {
		return response{}, err
	}

	hres, err := hc.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("failed sending %s request: %w", req.Method, err)
	}
	defer hres.Body.Close()

	bodyb, err := io.ReadAll(hres.Body)
	if err != nil {
		return response{}, fmt.Errorf("failed reading response body: %w", err)
	}

	return response{
		Body:    bodyb,
		Status:  hres.StatusCode,
		Headers: hres.Header,
	}, nil
}

func (hc *httpClient) statusError(params requestParams, res response) *StatusError {
	method := params.method
	if method == "" {
		method = http.MethodGet
	}
	return &StatusError{
		Method: method,
		Path:   params.path,
		Status: res.Status,
		Body:   string(res.Body),
	}
}
