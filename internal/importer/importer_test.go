package importer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"prunsync/internal/cache"
	"prunsync/internal/db"
	"prunsync/internal/domain"
	"prunsync/internal/fio"
	"prunsync/internal/importer"
	"prunsync/internal/migrate"
	"prunsync/internal/repo"
)

// upstream is a scriptable stand-in for the FIO API: each path serves
// whatever was last assigned to it.
type upstream struct {
	bodies   map[string]any
	statuses map[string]int
	srv      *httptest.Server
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{bodies: map[string]any{}, statuses: map[string]int{}}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status, ok := u.statuses[r.URL.Path]; ok {
			http.Error(w, "scripted failure", status)
			return
		}
		body, ok := u.bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) serve(path string, body any) { u.bodies[path] = body }

func (u *upstream) fail(path string, status int) { u.statuses[path] = status }

func (u *upstream) recover(path string) { delete(u.statuses, path) }

type testEnv struct {
	Importer *importer.Importer
	Repo     repo.Repo
	Cache    *cache.Store
	Upstream *upstream
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	u := newUpstream(t)
	client, err := fio.NewClient(u.srv.URL, "svc-key", nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	r := repo.Repo{DB: conn}
	store := cache.New(nil)
	t.Cleanup(store.Close)
	return testEnv{
		Importer: importer.New(conn, r, client, store, nil),
		Repo:     r,
		Cache:    store,
		Upstream: u,
		Ctx:      context.Background(),
	}
}

func id32(seed string) string {
	return (seed + strings.Repeat("0", 32))[:32]
}

func planetPayload(naturalID string, resources []map[string]any) map[string]any {
	if resources == nil {
		resources = []map[string]any{}
	}
	return map[string]any{
		"PlanetId":                id32("p"),
		"PlanetNaturalId":         naturalID,
		"PlanetName":              "Testworld",
		"SystemId":                id32("s"),
		"Gravity":                 1.0,
		"Pressure":                1.0,
		"Temperature":             20.0,
		"Fertility":               0.2,
		"Surface":                 true,
		"HasLocalMarket":          true,
		"HasChamberOfCommerce":    false,
		"HasWarehouse":            false,
		"HasAdministrationCenter": false,
		"HasShipyard":             false,
		"BaseLocalMarketFee":      0.0,
		"WarehouseFee":            0.0,
		"EstablishmentFee":        0.0,
		"Resources":               resources,
		"COGCPrograms": []map[string]any{
			{"ProgramType": "AGRICULTURE", "StartEpochMs": 1000, "EndEpochMs": 2000},
		},
		"ProductionFees": []map[string]any{
			{"Category": "AGRICULTURE", "WorkforceLevel": "PIONEER", "FeeAmount": 10.0, "FeeCurrency": "AIC"},
		},
	}
}

func resourcePayload(materialID, resourceType string, factor float64) map[string]any {
	return map[string]any{"MaterialId": materialID, "ResourceType": resourceType, "Factor": factor}
}

func planetResources(t *testing.T, env testEnv, naturalID string) []domain.PlanetResource {
	t.Helper()
	tx, err := env.Repo.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	res, err := env.Repo.PlanetResourcesTx(env.Ctx, tx, naturalID)
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	return res
}

func TestImportPlanetCreatesChildren(t *testing.T) {
	env := newTestEnv(t)
	env.Upstream.serve("/planet/KW-688c", planetPayload("KW-688c", []map[string]any{
		resourcePayload(id32("water"), "LIQUID", 0.5),
		resourcePayload(id32("gas"), "GASEOUS", 0.3),
	}))

	if err := env.Importer.ImportPlanet(env.Ctx, "KW-688c"); err != nil {
		t.Fatalf("import: %v", err)
	}
	p, err := env.Repo.GetPlanet(env.Ctx, "KW-688c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Name != "Testworld" || !p.HasLocalMarket {
		t.Fatalf("planet = %+v", p)
	}
	if p.GravityType != domain.EnvNormal || !p.Fertile {
		t.Fatalf("derived fields wrong: %+v", p)
	}

	res := planetResources(t, env, "KW-688c")
	if len(res) != 2 {
		t.Fatalf("resource count = %d", len(res))
	}
	byID := map[string]domain.PlanetResource{}
	for _, r := range res {
		byID[r.MaterialID] = r
	}
	if got := byID[id32("water")].DailyExtraction; got != 35.0 {
		t.Fatalf("liquid extraction = %v, want 35", got)
	}
	if got := byID[id32("gas")].DailyExtraction; got != 18.0 {
		t.Fatalf("gaseous extraction = %v, want 18", got)
	}
}

func TestImportPlanetReconcilesChildren(t *testing.T) {
	env := newTestEnv(t)
	env.Upstream.serve("/planet/KW-688c", planetPayload("KW-688c", []map[string]any{
		resourcePayload(id32("keep"), "MINERAL", 0.1),
		resourcePayload(id32("gone"), "MINERAL", 0.2),
	}))
	if err := env.Importer.ImportPlanet(env.Ctx, "KW-688c"); err != nil {
		t.Fatalf("first import: %v", err)
	}

	// second fetch: one row kept with a changed factor, one removed, one new
	env.Upstream.serve("/planet/KW-688c", planetPayload("KW-688c", []map[string]any{
		resourcePayload(id32("keep"), "MINERAL", 0.4),
		resourcePayload(id32("new"), "LIQUID", 0.6),
	}))
	if err := env.Importer.ImportPlanet(env.Ctx, "KW-688c"); err != nil {
		t.Fatalf("second import: %v", err)
	}

	res := planetResources(t, env, "KW-688c")
	if len(res) != 2 {
		t.Fatalf("resource count = %d after reconcile", len(res))
	}
	byID := map[string]domain.PlanetResource{}
	for _, r := range res {
		byID[r.MaterialID] = r
	}
	if _, ok := byID[id32("gone")]; ok {
		t.Fatal("vanished resource still stored")
	}
	if byID[id32("keep")].Factor != 0.4 {
		t.Fatalf("changed factor not applied: %v", byID[id32("keep")].Factor)
	}
	if byID[id32("new")].DailyExtraction != 42.0 {
		t.Fatalf("new liquid extraction = %v, want 42", byID[id32("new")].DailyExtraction)
	}
}

func TestImportPlanetIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.Upstream.serve("/planet/KW-688c", planetPayload("KW-688c", []map[string]any{
		resourcePayload(id32("water"), "LIQUID", 0.5),
		resourcePayload(id32("ore"), "MINERAL", 0.2),
	}))

	if err := env.Importer.ImportPlanet(env.Ctx, "KW-688c"); err != nil {
		t.Fatalf("first import: %v", err)
	}
	firstPlanet, err := env.Repo.GetPlanet(env.Ctx, "KW-688c")
	if err != nil {
		t.Fatal(err)
	}
	firstResources := planetResources(t, env, "KW-688c")

	// same payload again: the second pass must be a no-op
	if err := env.Importer.ImportPlanet(env.Ctx, "KW-688c"); err != nil {
		t.Fatalf("second import: %v", err)
	}
	secondPlanet, err := env.Repo.GetPlanet(env.Ctx, "KW-688c")
	if err != nil {
		t.Fatal(err)
	}
	secondResources := planetResources(t, env, "KW-688c")

	if !reflect.DeepEqual(firstPlanet, secondPlanet) {
		t.Fatalf("planet changed on identical re-import:\nfirst  %+v\nsecond %+v", firstPlanet, secondPlanet)
	}
	if !reflect.DeepEqual(firstResources, secondResources) {
		t.Fatalf("resources changed on identical re-import:\nfirst  %+v\nsecond %+v", firstResources, secondResources)
	}
}

func TestImportAllPlanetsReplacesStaleChildren(t *testing.T) {
	env := newTestEnv(t)
	env.Upstream.serve("/planet/AA-111a", planetPayload("AA-111a", []map[string]any{
		resourcePayload(id32("stale"), "MINERAL", 0.1),
		resourcePayload(id32("older"), "MINERAL", 0.2),
	}))
	if err := env.Importer.ImportPlanet(env.Ctx, "AA-111a"); err != nil {
		t.Fatalf("seed import: %v", err)
	}

	existing := planetPayload("AA-111a", []map[string]any{
		resourcePayload(id32("fresh"), "LIQUID", 0.5),
	})
	second := planetPayload("BB-222b", nil)
	second["PlanetId"] = id32("q")
	third := planetPayload("CC-333c", nil)
	third["PlanetId"] = id32("r")
	env.Upstream.serve("/planet/allplanets/full", []map[string]any{existing, second, third})

	n, err := env.Importer.ImportAllPlanets(env.Ctx)
	if err != nil {
		t.Fatalf("full sync: %v", err)
	}
	if n != 3 {
		t.Fatalf("synced %d planets, want 3", n)
	}
	planets, err := env.Repo.ListPlanets(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(planets) != 3 {
		t.Fatalf("planet rows = %d, want exactly 3", len(planets))
	}

	res := planetResources(t, env, "AA-111a")
	if len(res) != 1 || res[0].MaterialID != id32("fresh") {
		t.Fatalf("stale children survived full sync: %+v", res)
	}
}

func TestImportPlanetPurgesCaches(t *testing.T) {
	env := newTestEnv(t)
	env.Upstream.serve("/planet/KW-688c", planetPayload("KW-688c", nil))

	env.Cache.Set(cache.KeyPlanet("KW-688c"), []byte("stale"), cache.Timeout1Day)
	env.Cache.Set(cache.KeyPlanetList(), []byte("stale"), cache.Timeout1Day)
	searchKey := cache.KeyPlanetSearch(domain.PlanetSearch{MustBeFertile: true})
	env.Cache.Set(searchKey, []byte("stale"), cache.Timeout1Day)
	env.Cache.Set(cache.KeyExchangeList(), []byte("kept"), cache.Timeout1Day)

	if err := env.Importer.ImportPlanet(env.Ctx, "KW-688c"); err != nil {
		t.Fatalf("import: %v", err)
	}
	for _, key := range []string{cache.KeyPlanet("KW-688c"), cache.KeyPlanetList(), searchKey} {
		if _, ok := env.Cache.Get(key); ok {
			t.Errorf("key %s survived planet import", key)
		}
	}
	if _, ok := env.Cache.Get(cache.KeyExchangeList()); !ok {
		t.Error("unrelated exchange key purged")
	}
}

func TestImportPlanetFailureLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.Upstream.fail("/planet/KW-688c", http.StatusBadGateway)
	err := env.Importer.ImportPlanet(env.Ctx, "KW-688c")
	if err == nil {
		t.Fatal("import succeeded against failing upstream")
	}
	if _, getErr := env.Repo.GetPlanet(env.Ctx, "KW-688c"); getErr != repo.ErrNotFound {
		t.Fatalf("planet row written despite failure: %v", getErr)
	}
}

func TestImportPricesKeepsDailyBarsOnly(t *testing.T) {
	env := newTestEnv(t)
	bar := func(interval string, date int64) map[string]any {
		return map[string]any{
			"Interval": interval, "DateEpochMs": date,
			"Open": 1.0, "Close": 2.0, "High": 2.0, "Low": 1.0, "Volume": 10.0, "Traded": 3,
		}
	}
	env.Upstream.serve("/exchange/cxpc/RAT.AI1", []map[string]any{
		bar("DAY_ONE", 1000),
		bar("HOUR_ONE", 2000),
		bar("DAY_ONE", 3000),
	})
	n, err := env.Importer.ImportPrices(env.Ctx, "RAT", "AI1")
	if err != nil {
		t.Fatalf("import prices: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d bars, want the 2 DAY_ONE bars", n)
	}
}

func TestImportPlanetInfrastructureCapsReports(t *testing.T) {
	env := newTestEnv(t)
	env.Upstream.serve("/planet/KW-688c", planetPayload("KW-688c", nil))
	if err := env.Importer.ImportPlanet(env.Ctx, "KW-688c"); err != nil {
		t.Fatal(err)
	}

	var reports []map[string]any
	for i := 1; i <= 14; i++ {
		reports = append(reports, map[string]any{
			"InfrastructureReportId": id32("r"),
			"ExplorersGraceEnabled":  false,
			"SimulationPeriod":       i,
		})
	}
	env.Upstream.serve("/planet/infrastructure/KW-688c", map[string]any{"InfrastructureReports": reports})

	n, err := env.Importer.ImportPlanetInfrastructure(env.Ctx, "KW-688c")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 10 {
		t.Fatalf("kept %d reports, want 10", n)
	}
	stored, err := env.Repo.ListInfrastructureReports(env.Ctx, "KW-688c")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 10 || stored[0].SimulationPeriod != 14 || stored[9].SimulationPeriod != 5 {
		t.Fatalf("stored periods %d..%d (%d reports), want 14..5", stored[0].SimulationPeriod, stored[len(stored)-1].SimulationPeriod, len(stored))
	}
}

func TestFetchPlayerSnapshotsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	env.Upstream.serve("/storage/tester", []map[string]any{{"StorageId": "s1"}})
	env.Upstream.serve("/sites/tester", []map[string]any{})
	env.Upstream.serve("/sites/warehouses/tester", []map[string]any{})
	env.Upstream.fail("/ship/ships/tester", http.StatusInternalServerError)

	if _, err := env.Importer.FetchPlayerSnapshots(env.Ctx, "tester", "player-key"); err == nil {
		t.Fatal("partial snapshot fetch succeeded")
	}

	env.Upstream.serve("/ship/ships/tester", []map[string]any{{"ShipId": "sh1"}})
	env.Upstream.recover("/ship/ships/tester")
	snaps, err := env.Importer.FetchPlayerSnapshots(env.Ctx, "tester", "player-key")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snaps.Storage == "" || snaps.Ships == "" {
		t.Fatalf("snapshots incomplete: %+v", snaps)
	}
}

func TestImportAllMaterialsReplaces(t *testing.T) {
	env := newTestEnv(t)
	material := func(id, ticker string) map[string]any {
		return map[string]any{
			"MaterialId": id, "CategoryName": "cat", "CategoryId": id32("c"),
			"Name": "mat-" + ticker, "Ticker": ticker, "Weight": 1.0, "Volume": 1.0,
		}
	}
	env.Upstream.serve("/material/allmaterials", []map[string]any{
		material(id32("a"), "RAT"),
		material(id32("b"), "H2O"),
	})
	n, err := env.Importer.ImportAllMaterials(env.Ctx)
	if err != nil || n != 2 {
		t.Fatalf("first import: n=%d err=%v", n, err)
	}

	env.Upstream.serve("/material/allmaterials", []map[string]any{
		material(id32("b"), "H2O"),
	})
	n, err = env.Importer.ImportAllMaterials(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("second import: n=%d err=%v", n, err)
	}
	mats, err := env.Repo.ListMaterials(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(mats) != 1 || mats[0].Ticker != "H2O" {
		t.Fatalf("materials after replace = %+v", mats)
	}
}
