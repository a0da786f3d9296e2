package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"prunsync/internal/analytics"
	"prunsync/internal/cache"
	"prunsync/internal/config"
	"prunsync/internal/db"
	"prunsync/internal/domain"
	"prunsync/internal/events"
	"prunsync/internal/fio"
	"prunsync/internal/importer"
	"prunsync/internal/metrics"
	"prunsync/internal/migrate"
	"prunsync/internal/repo"
	"prunsync/internal/scheduler"
	"prunsync/internal/server"
)

const (
	testJWTSecret = "test-secret"
	testAPIKey    = "ops-key"
)

type testServer struct {
	URL      string
	Repo     repo.Repo
	Cache    *cache.Store
	Upstream map[string]any
	Ctx      context.Context
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bodies := map[string]any{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(upstream.Close)

	client, err := fio.NewClient(upstream.URL, "svc-key", nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	r := repo.Repo{DB: conn}
	store := cache.New(nil)
	t.Cleanup(store.Close)
	ev := events.NewWriter(conn, nil)
	m := metrics.New()
	im := importer.New(conn, r, client, store, nil)
	agg := analytics.New(r, store, nil)
	sched := scheduler.New(config.Default(), r, im, agg, ev, m, store, nil)

	handler, err := server.New(server.Config{
		Repo:      r,
		Cache:     store,
		Events:    ev,
		Importer:  im,
		Scheduler: sched,
		Metrics:   m,
		BasePath:  "/v1",
		Auth: server.AuthConfig{
			JWTSecret: testJWTSecret,
			APIKeys:   []string{testAPIKey},
		},
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return testServer{URL: ts.URL, Repo: r, Cache: store, Upstream: bodies, Ctx: context.Background()}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, method, url string, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope %q: %v", body, err)
	}
	return envelope.Error.Code
}

func seedPlanet(t *testing.T, srv testServer, naturalID string) {
	t.Helper()
	p := domain.Planet{
		PlanetID:  strings.Repeat("a", 32),
		NaturalID: naturalID,
		Name:      "Testworld",
		SystemID:  strings.Repeat("b", 32),
		Gravity:   1, Pressure: 1, Temperature: 20, Fertility: 0.3, Surface: true,
	}
	p.DeriveEnvironment()
	tx, err := srv.Repo.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Repo.UpsertPlanetTx(srv.Ctx, tx, p); err != nil {
		tx.Rollback()
		t.Fatalf("seed planet: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/status", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials: status = %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "unauthorized" {
		t.Fatalf("code = %q", code)
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/v1/status", "", map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad bearer: status = %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "invalid_credentials" {
		t.Fatalf("code = %q", code)
	}

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/status", "", map[string]string{
		"X-Api-Key": "wrong-key",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key: status = %d", resp.StatusCode)
	}
}

func TestStatusWithAPIKey(t *testing.T) {
	srv := newTestServer(t)
	seedPlanet(t, srv, "KW-688c")

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/status", "", map[string]string{
		"X-Api-Key": testAPIKey,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var status struct {
		Planets      map[string]int `json:"planets"`
		Players      map[string]int `json:"players"`
		CacheEntries int            `json:"cache_entries"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Planets["ok"] != 1 {
		t.Fatalf("planet counts = %v", status.Planets)
	}
}

func TestStatusWithJWT(t *testing.T) {
	srv := newTestServer(t)

	token := signToken(t, testJWTSecret, "tester")
	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/status", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token: status = %d", resp.StatusCode)
	}

	forged := signToken(t, "other-secret", "tester")
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/status", "", map[string]string{
		"Authorization": "Bearer " + forged,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token: status = %d", resp.StatusCode)
	}
}

func TestGamedataPlanetIsPublicAndCached(t *testing.T) {
	srv := newTestServer(t)
	seedPlanet(t, srv, "KW-688c")

	resp, first := doRequest(t, http.MethodGet, srv.URL+"/v1/gamedata/planets/KW-688c", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, first)
	}
	if hit := resp.Header.Get("X-Cache-Hit"); hit != "false" {
		t.Fatalf("first read X-Cache-Hit = %q", hit)
	}

	resp, second := doRequest(t, http.MethodGet, srv.URL+"/v1/gamedata/planets/KW-688c", "", nil)
	if hit := resp.Header.Get("X-Cache-Hit"); hit != "true" {
		t.Fatalf("second read X-Cache-Hit = %q", hit)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cached body differs:\n%s\n%s", first, second)
	}

	var planet struct {
		NaturalID string `json:"natural_id"`
		Name      string `json:"name"`
		Fertile   bool   `json:"fertile"`
	}
	if err := json.Unmarshal(first, &planet); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if planet.NaturalID != "KW-688c" || planet.Name != "Testworld" || !planet.Fertile {
		t.Fatalf("planet = %+v", planet)
	}
}

func TestGamedataPlanetNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/gamedata/planets/XX-000x", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "not_found" {
		t.Fatalf("code = %q", code)
	}
}

func TestRegisterAndGetPlayer(t *testing.T) {
	srv := newTestServer(t)
	auth := map[string]string{"X-Api-Key": testAPIKey}

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/players",
		`{"user_id":"u1","username":"tester","api_key":"player-key"}`, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status = %d, body %s", resp.StatusCode, body)
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/v1/players/u1", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status = %d, body %s", resp.StatusCode, body)
	}
	var player struct {
		UserID     string `json:"user_id"`
		Username   string `json:"username"`
		Automation struct {
			Status string `json:"status"`
		} `json:"automation"`
	}
	if err := json.Unmarshal(body, &player); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if player.UserID != "u1" || player.Username != "tester" || player.Automation.Status != domain.StatusOK {
		t.Fatalf("player = %+v", player)
	}
}

func TestPlayerDataIsServedFromCache(t *testing.T) {
	srv := newTestServer(t)
	auth := map[string]string{"X-Api-Key": testAPIKey}
	if err := srv.Repo.UpsertPlayer(srv.Ctx, domain.Player{
		UserID: "u1", Username: "tester", APIKey: "player-key",
		Automation: domain.AutomationState{Status: domain.StatusOK},
	}); err != nil {
		t.Fatal(err)
	}
	if err := srv.Repo.UpdatePlayerData(srv.Ctx, "u1",
		`[{"StorageId":"s1"}]`, `[]`, `[]`, `[]`,
		domain.AutomationState{Status: domain.StatusOK}); err != nil {
		t.Fatal(err)
	}

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/players/u1/data", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated read: status = %d", resp.StatusCode)
	}

	resp, first := doRequest(t, http.MethodGet, srv.URL+"/v1/players/u1/data", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, first)
	}
	if hit := resp.Header.Get("X-Cache-Hit"); hit != "false" {
		t.Fatalf("first read X-Cache-Hit = %q", hit)
	}
	var data struct {
		UserID  string `json:"user_id"`
		Storage []struct {
			StorageID string `json:"StorageId"`
		} `json:"storage"`
	}
	if err := json.Unmarshal(first, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.UserID != "u1" || len(data.Storage) != 1 || data.Storage[0].StorageID != "s1" {
		t.Fatalf("data = %s", first)
	}

	resp, second := doRequest(t, http.MethodGet, srv.URL+"/v1/players/u1/data", "", auth)
	if hit := resp.Header.Get("X-Cache-Hit"); hit != "true" {
		t.Fatalf("second read X-Cache-Hit = %q", hit)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cached body differs:\n%s\n%s", first, second)
	}
}

func TestRegisterPlayerValidation(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/players",
		`{"username":"tester"}`, map[string]string{"X-Api-Key": testAPIKey})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestPlanetSearch(t *testing.T) {
	srv := newTestServer(t)
	seedPlanet(t, srv, "KW-688c")

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/planets/search", `{}`,
		map[string]string{"X-Api-Key": testAPIKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var planets []struct {
		NaturalID string `json:"natural_id"`
	}
	if err := json.Unmarshal(body, &planets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(planets) != 1 || planets[0].NaturalID != "KW-688c" {
		t.Fatalf("planets = %+v", planets)
	}
}

func TestManualPlanetRefresh(t *testing.T) {
	srv := newTestServer(t)
	seedPlanet(t, srv, "KW-688c")
	srv.Upstream["/planet/KW-688c"] = map[string]any{
		"PlanetId":                strings.Repeat("a", 32),
		"PlanetNaturalId":         "KW-688c",
		"PlanetName":              "Renamed",
		"SystemId":                strings.Repeat("b", 32),
		"Gravity":                 1.0,
		"Pressure":                1.0,
		"Temperature":             20.0,
		"Fertility":               0.3,
		"Surface":                 true,
		"HasLocalMarket":          false,
		"HasChamberOfCommerce":    false,
		"HasWarehouse":            false,
		"HasAdministrationCenter": false,
		"HasShipyard":             false,
		"BaseLocalMarketFee":      0.0,
		"WarehouseFee":            0.0,
		"EstablishmentFee":        0.0,
		"Resources":               []map[string]any{},
		"COGCPrograms":            []map[string]any{},
		"ProductionFees":          []map[string]any{},
	}
	auth := map[string]string{"X-Api-Key": testAPIKey}

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/planets/KW-688c/refresh", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var result struct {
		Refreshed bool `json:"refreshed"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Refreshed {
		t.Fatalf("result = %s", body)
	}
	p, err := srv.Repo.GetPlanet(srv.Ctx, "KW-688c")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Renamed" {
		t.Fatalf("planet name = %q", p.Name)
	}
}

func TestManualPlanetRefreshConflict(t *testing.T) {
	srv := newTestServer(t)
	seedPlanet(t, srv, "KW-688c")
	if _, err := srv.Repo.MarkPlanetPending(srv.Ctx, "KW-688c", time.Now()); err != nil {
		t.Fatal(err)
	}

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/planets/KW-688c/refresh", "",
		map[string]string{"X-Api-Key": testAPIKey})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if code := errorCode(t, body); code != "refresh_in_flight" {
		t.Fatalf("code = %q", code)
	}
}

func TestManualRefreshUnknownPlanet(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/planets/XX-000x/refresh", "",
		map[string]string{"X-Api-Key": testAPIKey})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.Upstream["/exchange/all"] = []map[string]any{}
	srv.Upstream["/material/allmaterials"] = []map[string]any{}
	auth := map[string]string{"X-Api-Key": testAPIKey}

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/refresh/exchange", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status = %d, body %s", resp.StatusCode, body)
	}
	resp, body = doRequest(t, http.MethodPost, srv.URL+"/v1/refresh/material", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh material: status = %d, body %s", resp.StatusCode, body)
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/v1/events?collection=material", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events: status = %d, body %s", resp.StatusCode, body)
	}
	var materialEvents []struct {
		Collection string `json:"collection"`
		Outcome    string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &materialEvents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(materialEvents) != 1 || materialEvents[0].Outcome != "success" {
		t.Fatalf("material events = %+v", materialEvents)
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/v1/events?collection=exchange", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events: status = %d, body %s", resp.StatusCode, body)
	}
	var items []struct {
		Collection string `json:"collection"`
		Outcome    string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Collection != "exchange" || items[0].Outcome != "success" {
		t.Fatalf("exchange events = %+v", items)
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/v1/events?collection=planet", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events: status = %d, body %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("planet events = %+v", items)
	}
}
