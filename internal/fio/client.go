// Package fio wraps the FIO REST API. The client does no retrying of
// its own; retry policy belongs to the scheduler. Every response is
// validated against a strict schema before it is decoded, so a payload
// with unknown or malformed fields fails the whole call.
package fio

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type Endpoint string

const (
	EndpointAllMaterials   Endpoint = "allmaterials"
	EndpointAllBuildings   Endpoint = "allbuildings"
	EndpointAllRecipes     Endpoint = "allrecipes"
	EndpointAllExchanges   Endpoint = "allexchange"
	EndpointAllPlanets     Endpoint = "allplanets"
	EndpointPlanet         Endpoint = "planet"
	EndpointInfrastructure Endpoint = "infrastructure"
	EndpointPrices         Endpoint = "cxpc"
	EndpointUserStorage    Endpoint = "user_storage"
	EndpointUserSites      Endpoint = "user_sites"
	EndpointUserWarehouses Endpoint = "user_warehouses"
	EndpointUserShips      Endpoint = "user_ships"
)

var endpointPaths = map[Endpoint]string{
	EndpointAllMaterials:   "/material/allmaterials",
	EndpointAllBuildings:   "/building/allbuildings",
	EndpointAllRecipes:     "/recipes/allrecipes",
	EndpointAllExchanges:   "/exchange/all",
	EndpointAllPlanets:     "/planet/allplanets/full",
	EndpointPlanet:         "/planet/",
	EndpointInfrastructure: "/planet/infrastructure/",
	EndpointPrices:         "/exchange/cxpc/",
	EndpointUserStorage:    "/storage/",
	EndpointUserSites:      "/sites/",
	EndpointUserWarehouses: "/sites/warehouses/",
	EndpointUserShips:      "/ship/ships/",
}

// Per-endpoint timeouts. There is deliberately no shared default: a
// new endpoint must pick one.
var endpointTimeouts = map[Endpoint]time.Duration{
	EndpointAllMaterials:   5 * time.Second,
	EndpointAllBuildings:   10 * time.Second,
	EndpointAllRecipes:     10 * time.Second,
	EndpointAllExchanges:   5 * time.Second,
	EndpointAllPlanets:     10 * time.Second,
	EndpointPlanet:         3 * time.Second,
	EndpointInfrastructure: 3 * time.Second,
	EndpointPrices:         3 * time.Second,
	EndpointUserStorage:    3 * time.Second,
	EndpointUserSites:      3 * time.Second,
	EndpointUserWarehouses: 3 * time.Second,
	EndpointUserShips:      3 * time.Second,
}

// per-endpoint schema resource names
var endpointSchemas = map[Endpoint]string{
	EndpointAllMaterials:   "list/material.json",
	EndpointAllBuildings:   "list/building.json",
	EndpointAllRecipes:     "list/recipe.json",
	EndpointAllExchanges:   "list/exchange.json",
	EndpointAllPlanets:     "list/planet.json",
	EndpointPlanet:         "planet.json",
	EndpointInfrastructure: "infrastructure.json",
	EndpointPrices:         "list/price.json",
	EndpointUserStorage:    "userdata.json",
	EndpointUserSites:      "userdata.json",
	EndpointUserWarehouses: "userdata.json",
	EndpointUserShips:      "userdata.json",
}

type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindHTTP    ErrorKind = "http_error"
	KindSchema  ErrorKind = "schema_mismatch"
)

// Error is returned for every failed upstream call.
type Error struct {
	Kind     ErrorKind
	Endpoint Endpoint
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fio %s: %s (status %d): %v", e.Endpoint, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fio %s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

//go:embed schemas/*.json
var schemasFS embed.FS

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Log        *slog.Logger

	schemas map[Endpoint]*jsonschema.Schema
}

func NewClient(baseURL, apiKey string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("compile fio schemas: %w", err)
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
		Log:        log,
		schemas:    schemas,
	}, nil
}

func compileSchemas() (map[Endpoint]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()

	files, err := schemasFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		data, err := schemasFS.ReadFile("schemas/" + f.Name())
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", f.Name(), err)
		}
		if err := compiler.AddResource(f.Name(), doc); err != nil {
			return nil, fmt.Errorf("schema %s: %w", f.Name(), err)
		}
		// Collection endpoints validate an array of the same item. The
		// wrapper lives at "list/<name>" so the relative ref resolves back
		// to the item schema registered at "<name>".
		listDoc := map[string]any{"type": "array", "items": map[string]any{"$ref": "../" + f.Name()}}
		if err := compiler.AddResource("list/"+f.Name(), listDoc); err != nil {
			return nil, fmt.Errorf("schema list/%s: %w", f.Name(), err)
		}
	}

	schemas := make(map[Endpoint]*jsonschema.Schema, len(endpointSchemas))
	for endpoint, name := range endpointSchemas {
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		schemas[endpoint] = sch
	}
	return schemas, nil
}

// cleanKey strips whitespace users tend to paste along with API keys.
func cleanKey(key string) string {
	return strings.NewReplacer(" ", "", "\t", "", "\n", "").Replace(strings.TrimSpace(key))
}

func (c *Client) fetch(ctx context.Context, endpoint Endpoint, suffix, apiKey string) ([]byte, error) {
	url := c.BaseURL + endpointPaths[endpoint] + suffix

	ctx, cancel := context.WithTimeout(ctx, endpointTimeouts[endpoint])
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindHTTP, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("X-FIO-Application", "prunsync")
	if apiKey != "" {
		req.Header.Set("Authorization", cleanKey(apiKey))
	}

	log := c.Log.With("method", http.MethodGet, "url", url, "endpoint", string(endpoint))
	log.Info("fio_request_started")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Error("fio_request_failed", "error", err)
		kind := KindHTTP
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	log.Info("fio_request_completed", "status_code", resp.StatusCode, "duration", duration.Seconds())
	if err != nil {
		return nil, &Error{Kind: KindHTTP, Endpoint: endpoint, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{
			Kind:     KindHTTP,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return body, nil
}

// decode validates raw bytes against the endpoint schema and decodes
// them into out.
func (c *Client) decode(endpoint Endpoint, raw []byte, out any) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &Error{Kind: KindSchema, Endpoint: endpoint, Err: err}
	}
	if err := c.schemas[endpoint].Validate(doc); err != nil {
		c.Log.Error("fio_schema_validation_failed", "endpoint", string(endpoint), "error", err)
		return &Error{Kind: KindSchema, Endpoint: endpoint, Err: err}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindSchema, Endpoint: endpoint, Err: err}
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint Endpoint, suffix, apiKey string, out any) error {
	raw, err := c.fetch(ctx, endpoint, suffix, apiKey)
	if err != nil {
		return err
	}
	return c.decode(endpoint, raw, out)
}

func (c *Client) AllMaterials(ctx context.Context) ([]MaterialPayload, error) {
	var out []MaterialPayload
	err := c.get(ctx, EndpointAllMaterials, "", c.APIKey, &out)
	return out, err
}

func (c *Client) AllBuildings(ctx context.Context) ([]BuildingPayload, error) {
	var out []BuildingPayload
	err := c.get(ctx, EndpointAllBuildings, "", c.APIKey, &out)
	return out, err
}

func (c *Client) AllRecipes(ctx context.Context) ([]RecipePayload, error) {
	var out []RecipePayload
	err := c.get(ctx, EndpointAllRecipes, "", c.APIKey, &out)
	return out, err
}

func (c *Client) AllExchanges(ctx context.Context) ([]ExchangePayload, error) {
	var out []ExchangePayload
	err := c.get(ctx, EndpointAllExchanges, "", c.APIKey, &out)
	return out, err
}

func (c *Client) AllPlanets(ctx context.Context) ([]PlanetPayload, error) {
	var out []PlanetPayload
	err := c.get(ctx, EndpointAllPlanets, "", c.APIKey, &out)
	return out, err
}

func (c *Client) Planet(ctx context.Context, naturalID string) (PlanetPayload, error) {
	var out PlanetPayload
	err := c.get(ctx, EndpointPlanet, naturalID, c.APIKey, &out)
	return out, err
}

func (c *Client) PlanetInfrastructure(ctx context.Context, naturalID string) (InfrastructurePayload, error) {
	var out InfrastructurePayload
	err := c.get(ctx, EndpointInfrastructure, naturalID, c.APIKey, &out)
	return out, err
}

func (c *Client) Prices(ctx context.Context, ticker, exchangeCode string) ([]PricePayload, error) {
	var out []PricePayload
	err := c.get(ctx, EndpointPrices, ticker+"."+exchangeCode, c.APIKey, &out)
	return out, err
}

// User data endpoints need the player's own API key and return opaque
// snapshots; payloads are schema-checked for shape only and stored
// verbatim.

func (c *Client) UserStorage(ctx context.Context, username, apiKey string) (json.RawMessage, error) {
	return c.userData(ctx, EndpointUserStorage, username, apiKey)
}

func (c *Client) UserSites(ctx context.Context, username, apiKey string) (json.RawMessage, error) {
	return c.userData(ctx, EndpointUserSites, username, apiKey)
}

func (c *Client) UserWarehouses(ctx context.Context, username, apiKey string) (json.RawMessage, error) {
	return c.userData(ctx, EndpointUserWarehouses, username, apiKey)
}

func (c *Client) UserShips(ctx context.Context, username, apiKey string) (json.RawMessage, error) {
	return c.userData(ctx, EndpointUserShips, username, apiKey)
}

func (c *Client) userData(ctx context.Context, endpoint Endpoint, username, apiKey string) (json.RawMessage, error) {
	raw, err := c.fetch(ctx, endpoint, username, apiKey)
	if err != nil {
		return nil, err
	}
	if err := c.decode(endpoint, raw, nil); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
