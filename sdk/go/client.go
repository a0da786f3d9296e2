package prunsyncsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal prunsync HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Automation is the refresh health of one entity.
type Automation struct {
	Status          string `json:"status"`
	LastRefreshedAt string `json:"last_refreshed_at,omitempty"`
	NextRetryAt     string `json:"next_retry_at,omitempty"`
	ErrorCount      int    `json:"error_count"`
	LastError       string `json:"last_error,omitempty"`
}

// Planet represents the API planet model (partial).
type Planet struct {
	NaturalID         string     `json:"natural_id"`
	Name              string     `json:"name,omitempty"`
	SystemID          string     `json:"system_id"`
	Gravity           float64    `json:"gravity"`
	Pressure          float64    `json:"pressure"`
	Temperature       float64    `json:"temperature"`
	Fertility         float64    `json:"fertility"`
	Fertile           bool       `json:"fertile"`
	Surface           bool       `json:"surface"`
	GravityType       string     `json:"gravity_type"`
	PressureType      string     `json:"pressure_type"`
	TemperatureType   string     `json:"temperature_type"`
	COGCProgramStatus string     `json:"cogc_program_status,omitempty"`
	Automation        Automation `json:"automation"`
}

// PlanetSearch filters planet search results. Pointer fields are
// tri-state: nil means no filter.
type PlanetSearch struct {
	Materials    []string `json:"materials,omitempty"`
	COGCPrograms []string `json:"cogc_programs,omitempty"`

	MustBeFertile bool `json:"must_be_fertile,omitempty"`

	LocalMarket          *bool `json:"local_market,omitempty"`
	ChamberOfCommerce    *bool `json:"chamber_of_commerce,omitempty"`
	Warehouse            *bool `json:"warehouse,omitempty"`
	AdministrationCenter *bool `json:"administration_center,omitempty"`
	Shipyard             *bool `json:"shipyard,omitempty"`

	Rocky   bool `json:"rocky,omitempty"`
	Gaseous bool `json:"gaseous,omitempty"`

	LowGravity      bool `json:"low_gravity,omitempty"`
	HighGravity     bool `json:"high_gravity,omitempty"`
	LowPressure     bool `json:"low_pressure,omitempty"`
	HighPressure    bool `json:"high_pressure,omitempty"`
	LowTemperature  bool `json:"low_temperature,omitempty"`
	HighTemperature bool `json:"high_temperature,omitempty"`
}

// Player represents a linked player account.
type Player struct {
	UserID       string     `json:"user_id"`
	Username     string     `json:"username"`
	LastActiveAt string     `json:"last_active_at,omitempty"`
	Automation   Automation `json:"automation"`
}

// Event is one refresh event log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Collection string `json:"collection"`
	NaturalID  string `json:"natural_id,omitempty"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Status summarizes refresh health per collection.
type Status struct {
	Planets      map[string]int `json:"planets"`
	Players      map[string]int `json:"players"`
	CacheEntries int            `json:"cache_entries"`
}

// RefreshResult reports the outcome of a manual refresh trigger.
type RefreshResult struct {
	Collection string `json:"collection"`
	NaturalID  string `json:"natural_id,omitempty"`
	Refreshed  bool   `json:"refreshed"`
	Detail     string `json:"detail,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Planets returns all known planets.
func (c *Client) Planets(ctx context.Context) ([]Planet, error) {
	var resp []Planet
	err := c.do(ctx, http.MethodGet, "v1/gamedata/planets", nil, &resp)
	return resp, err
}

// Planet fetches one planet by natural id.
func (c *Client) Planet(ctx context.Context, naturalID string) (Planet, error) {
	var resp Planet
	endpoint := fmt.Sprintf("v1/gamedata/planets/%s", url.PathEscape(naturalID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SearchPlanets runs a filtered planet search.
func (c *Client) SearchPlanets(ctx context.Context, search PlanetSearch) ([]Planet, error) {
	var resp []Planet
	err := c.do(ctx, http.MethodPost, "v1/planets/search", search, &resp)
	return resp, err
}

// Status returns refresh health counts.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "v1/status", nil, &resp)
	return resp, err
}

// Events returns recent refresh events, newest first.
func (c *Client) Events(ctx context.Context, limit int, collection string) ([]Event, error) {
	endpoint := "v1/events"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if collection != "" {
		q.Set("collection", collection)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Refresh triggers a refresh cycle for a collection.
func (c *Client) Refresh(ctx context.Context, collection string) (RefreshResult, error) {
	var resp RefreshResult
	endpoint := fmt.Sprintf("v1/refresh/%s", url.PathEscape(collection))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RefreshPlanet triggers an immediate refresh for one planet.
func (c *Client) RefreshPlanet(ctx context.Context, naturalID string) (RefreshResult, error) {
	var resp RefreshResult
	endpoint := fmt.Sprintf("v1/planets/%s/refresh", url.PathEscape(naturalID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RegisterPlayer links a player account for background refreshes.
func (c *Client) RegisterPlayer(ctx context.Context, userID, username, apiKey string) (Player, error) {
	body := map[string]any{
		"user_id":  userID,
		"username": username,
		"api_key":  apiKey,
	}
	var resp Player
	err := c.do(ctx, http.MethodPost, "v1/players", body, &resp)
	return resp, err
}

// Player fetches a linked player and marks it active.
func (c *Client) Player(ctx context.Context, userID string) (Player, error) {
	var resp Player
	endpoint := fmt.Sprintf("v1/players/%s", url.PathEscape(userID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
