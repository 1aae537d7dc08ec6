package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/ouiprox/internal/model"
)

// Response is the envelope every mutating admin endpoint returns.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Paused  *bool  `json:"paused,omitempty"`
}

// Client talks to a running daemon's admin API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API listening on listen, which is
// either a full URL or a host:port as found in the configuration.
func NewClient(listen string) *Client {
	base := listen
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		if strings.HasPrefix(base, ":") {
			base = "127.0.0.1" + base
		}
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// TogglePause flips the pause flag and returns the new value.
func (c *Client) TogglePause() (bool, error) {
	resp, err := c.send(http.MethodPost, "/api/pause", nil)
	if err != nil {
		return false, err
	}
	return resp.Paused != nil && *resp.Paused, nil
}

// Resume clears the pause flag.
func (c *Client) Resume() (*Response, error) {
	return c.send(http.MethodPost, "/api/resume", nil)
}

// Ignore mutes mac for the given number of minutes.
func (c *Client) Ignore(mac string, minutes int) (*Response, error) {
	return c.send(http.MethodPost, "/api/ignore", ignoreRequest{MAC: mac, Duration: minutes})
}

// ClearLog truncates the detection log.
func (c *Client) ClearLog() (*Response, error) {
	return c.send(http.MethodPost, "/api/clear-log", nil)
}

// Status fetches the controller status.
func (c *Client) Status() (*model.Status, error) {
	var st model.Status
	if err := c.get("/api/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Ignored fetches the live ignore entries.
func (c *Client) Ignored() ([]model.IgnoreEntry, error) {
	var entries []model.IgnoreEntry
	if err := c.get("/api/ignored", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) get(path string, v interface{}) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("admin API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeFailure(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) send(method, path string, body interface{}) (*Response, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeFailure(resp)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid admin API response: %w", err)
	}
	return &out, nil
}

func decodeFailure(resp *http.Response) error {
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Message != "" {
		return fmt.Errorf("%s (HTTP %d)", out.Message, resp.StatusCode)
	}
	return fmt.Errorf("admin API returned HTTP %d", resp.StatusCode)
}
