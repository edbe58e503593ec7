package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pagequery/internal/api"
	"pagequery/internal/domain"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.HTTPStatus, e.Message)
}

// Client talks to the /v1 API of a pagequery server.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL. Query streams are long lived, so
// the HTTP client carries no overall timeout; callers bound requests with
// their context instead.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSHandshakeTimeout: 10 * time.Second,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Do sends a request to path, which is relative to the server root.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// CheckError turns a non-2xx response into an *APIError and closes its body.
func CheckError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := ReadBody(resp)
	apiErr := &APIError{HTTPStatus: resp.StatusCode, Message: string(body)}
	var parsed api.Error
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}
	return apiErr
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck
	return io.ReadAll(resp.Body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.Do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if err := CheckError(resp); err != nil {
		return err
	}
	data, err := ReadBody(resp)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Query posts req to /v1/query and calls fn for every streamed line until
// the server closes the stream. Returning an error from fn stops reading.
func (c *Client) Query(ctx context.Context, req api.QueryRequest, fn func(api.ResponseLine) error) error {
	resp, err := c.Do(ctx, http.MethodPost, "/v1/query", nil, req)
	if err != nil {
		return err
	}
	if err := CheckError(resp); err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	dec := json.NewDecoder(resp.Body)
	for {
		var line api.ResponseLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode stream: %w", err)
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}

// QueryRaw posts req to /v1/query and copies the NDJSON stream to w as is.
func (c *Client) QueryRaw(ctx context.Context, req api.QueryRequest, w io.Writer) error {
	resp, err := c.Do(ctx, http.MethodPost, "/v1/query", nil, req)
	if err != nil {
		return err
	}
	if err := CheckError(resp); err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Cancel asks the server to stop the query with the given backend id.
func (c *Client) Cancel(ctx context.Context, queryID string) (string, error) {
	var out api.CancelResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/cancel", nil, api.CancelRequest{QueryID: queryID}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

type optionsBody struct {
	Options []domain.SelectableValue `json:"options"`
}

// Databases lists the databases the server's backend exposes.
func (c *Client) Databases(ctx context.Context) ([]domain.SelectableValue, error) {
	var out optionsBody
	if err := c.doJSON(ctx, http.MethodGet, "/v1/databases", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Options, nil
}

// Tables lists the tables of database.
func (c *Client) Tables(ctx context.Context, database string) ([]domain.SelectableValue, error) {
	var out optionsBody
	body := api.SchemaRequest{Database: database}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tables", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Options, nil
}

// Measures lists the measures of a table, optionally narrowed by filter.
func (c *Client) Measures(ctx context.Context, database, table, filter string) ([]domain.SelectableValue, error) {
	var out optionsBody
	body := api.SchemaRequest{Database: database, Table: table, Filter: filter}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/measures", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Options, nil
}

// Variables runs a template variable query.
func (c *Client) Variables(ctx context.Context, req api.VariablesRequest) ([]string, error) {
	var out struct {
		Values []struct {
			Text string `json:"text"`
		} `json:"values"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/variables", nil, req, &out); err != nil {
		return nil, err
	}
	values := make([]string, 0, len(out.Values))
	for _, v := range out.Values {
		values = append(values, v.Text)
	}
	return values, nil
}

// History lists one page of the query history.
func (c *Client) History(ctx context.Context, query url.Values) (*api.HistoryPage, error) {
	var out api.HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, "/v1/history", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls the unauthenticated health probe.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	data, err := ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &APIError{HTTPStatus: resp.StatusCode, Message: string(data)}
	}
	return out, nil
}
