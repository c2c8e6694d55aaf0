// Package mojang provides a minimal client for the Mojang profile
// endpoints used for name backfill.
package mojang

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	sessionBaseURL = "https://sessionserver.mojang.com"
	apiBaseURL     = "https://api.mojang.com"
)

// Client is a minimal Mojang API client.
type Client struct {
	sessionBase string
	apiBase     string
	http        *http.Client
}

// NewClient returns a Mojang client with sane timeouts.
func NewClient() *Client {
	return &Client{
		sessionBase: sessionBaseURL,
		apiBase:     apiBaseURL,
		http:        &http.Client{Timeout: 12 * time.Second},
	}
}

// NewClientWithBase returns a client against custom base URLs; used in
// tests.
func NewClientWithBase(sessionBase, apiBase string) *Client {
	c := NewClient()
	c.sessionBase = sessionBase
	c.apiBase = apiBase
	return c
}

// profile is the /session/minecraft/profile/{id} response.
type profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// historyEntry is one element of the name-history response; the last
// entry is the current name.
type historyEntry struct {
	Name string `json:"name"`
}

// NameForID returns the current name for an undashed UUID hex, or
// ("", nil) when the profile is unknown. The session-server profile is
// tried first, then the name-history endpoint.
func (c *Client) NameForID(hexID string) (string, error) {
	var p profile
	ok, err := c.getJSON(fmt.Sprintf("%s/session/minecraft/profile/%s", c.sessionBase, hexID), &p)
	if err != nil {
		return "", err
	}
	if ok && p.Name != "" {
		return p.Name, nil
	}

	var hist []historyEntry
	ok, err = c.getJSON(fmt.Sprintf("%s/user/profiles/%s/names", c.apiBase, hexID), &hist)
	if err != nil {
		return "", err
	}
	if ok && len(hist) > 0 && hist[len(hist)-1].Name != "" {
		return hist[len(hist)-1].Name, nil
	}
	return "", nil
}

// getJSON performs a GET and decodes the body into out. Returns false
// for 204/404 responses (unknown profile) without error.
func (c *Client) getJSON(url string, out any) (bool, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", "mcstats-name-resolver/2.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("mojang: %s returned %s", url, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("mojang: decode %s: %w", url, err)
	}
	return true, nil
}
