package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

const maxBodySize = 8 << 20

// Client talks to the notification endpoints of the API.
type Client struct {
	base     *url.URL
	http     *http.Client
	pageSize int
}

// NewClient creates a Client for apiBase (e.g. https://op.example.com/api/v3).
// A nil httpClient uses http.DefaultClient.
func NewClient(apiBase string, httpClient *http.Client, pageSize int) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(apiBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing api base: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("api base must be absolute: %q", apiBase)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: u, http: httpClient, pageSize: pageSize}, nil
}

// Fetch issues one GET for the notification collection with tok.
func (c *Client) Fetch(ctx context.Context, tok *oauth2.Token) ([]Record, error) {
	u := c.base.JoinPath("notifications")
	if c.pageSize > 0 {
		q := u.Query()
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/hal+json")
	tok.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp.Body)
		return nil, &FetchError{Kind: KindUnauthenticated, StatusCode: resp.StatusCode, Err: errors.New("access token rejected")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return nil, &FetchError{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Err: fmt.Errorf("reading body: %w", err)}
	}

	return Decode(body)
}

// MarkRead POSTs to a record's read action link. href may be relative to
// the API host.
func (c *Client) MarkRead(ctx context.Context, tok *oauth2.Token, href string) error {
	ref, err := url.Parse(href)
	if err != nil {
		return fmt.Errorf("parsing read link: %w", err)
	}
	target := c.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mark read: unexpected status %s", resp.Status)
	}
	return nil
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxBodySize))
}
