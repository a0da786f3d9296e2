// Package importer turns validated upstream payloads into local rows.
// Every import runs inside one transaction; cache purges happen only
// after that transaction commits.
package importer

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"time"

	"prunsync/internal/cache"
	"prunsync/internal/domain"
	"prunsync/internal/fio"
	"prunsync/internal/repo"
)

// maxInfrastructureReports caps how many simulation periods are kept
// per planet.
const maxInfrastructureReports = 10

// priceInterval is the only bar granularity stored locally.
const priceInterval = "DAY_ONE"

type Importer struct {
	DB    *sql.DB
	Repo  repo.Repo
	FIO   *fio.Client
	Cache *cache.Store
	Log   *slog.Logger
	Now   func() time.Time
}

func New(db *sql.DB, r repo.Repo, client *fio.Client, store *cache.Store, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{DB: db, Repo: r, FIO: client, Cache: store, Log: log, Now: time.Now}
}

func planetFromPayload(p fio.PlanetPayload) domain.Planet {
	planet := domain.Planet{
		PlanetID:                p.PlanetID,
		NaturalID:               p.PlanetNaturalID,
		SystemID:                p.SystemID,
		Gravity:                 p.Gravity,
		Pressure:                p.Pressure,
		Temperature:             p.Temperature,
		Fertility:               p.Fertility,
		Surface:                 p.Surface,
		HasLocalMarket:          p.HasLocalMarket,
		HasChamberOfCommerce:    p.HasChamberOfCommerce,
		HasWarehouse:            p.HasWarehouse,
		HasAdministrationCenter: p.HasAdministrationCenter,
		HasShipyard:             p.HasShipyard,
		BaseLocalMarketFee:      p.BaseLocalMarketFee,
		WarehouseFee:            p.WarehouseFee,
		EstablishmentFee:        p.EstablishmentFee,
	}
	if p.PlanetName != nil {
		planet.Name = *p.PlanetName
	}
	if p.FactionCode != nil {
		planet.FactionCode = *p.FactionCode
	}
	if p.CurrencyCode != nil {
		planet.CurrencyCode = *p.CurrencyCode
	}
	if p.COGCProgramStatus != nil {
		planet.COGCProgramStatus = *p.COGCProgramStatus
	}
	planet.DeriveEnvironment()
	return planet
}

func resourceFromPayload(pr fio.PlanetResourcePayload, tickers map[string]string) domain.PlanetResource {
	return domain.PlanetResource{
		MaterialID:      pr.MaterialID,
		MaterialTicker:  tickers[pr.MaterialID],
		ResourceType:    pr.ResourceType,
		Factor:          pr.Factor,
		DailyExtraction: domain.Extraction(pr.ResourceType, pr.Factor),
	}
}

func programFromPayload(pg fio.COGCProgramPayload) domain.PlanetCOGCProgram {
	prog := domain.PlanetCOGCProgram{StartEpochMs: pg.StartEpochMs, EndEpochMs: pg.EndEpochMs}
	if pg.ProgramType != nil {
		prog.ProgramType = *pg.ProgramType
	}
	return prog
}

func feeFromPayload(f fio.ProductionFeePayload) domain.PlanetProductionFee {
	return domain.PlanetProductionFee{
		Category:       f.Category,
		WorkforceLevel: f.WorkforceLevel,
		FeeAmount:      f.FeeAmount,
		FeeCurrency:    f.FeeCurrency,
	}
}

// ImportPlanet refreshes one planet and its child sets from upstream.
func (im *Importer) ImportPlanet(ctx context.Context, naturalID string) error {
	payload, err := im.FIO.Planet(ctx, naturalID)
	if err != nil {
		return err
	}
	tickers, err := im.Repo.MaterialTickerMap(ctx)
	if err != nil {
		return err
	}

	tx, err := im.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	planet := planetFromPayload(payload)
	if err := im.Repo.UpsertPlanetTx(ctx, tx, planet); err != nil {
		return err
	}
	if err := im.syncResources(ctx, tx, planet.NaturalID, payload.Resources, tickers); err != nil {
		return err
	}
	if err := im.syncPrograms(ctx, tx, planet.NaturalID, payload.COGCPrograms); err != nil {
		return err
	}
	if err := im.syncFees(ctx, tx, planet.NaturalID, payload.ProductionFees); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	im.Cache.Delete(cache.KeyPlanet(planet.NaturalID))
	im.Cache.Delete(cache.KeyPlanetList())
	im.Cache.DeletePattern(cache.Key(cache.NamespaceGamedata, "planet", "search") + "*")
	return nil
}

// syncResources reconciles the stored resource set against the fetched
// one: new rows are inserted, changed rows updated, vanished rows
// deleted. Unchanged rows are never rewritten.
func (im *Importer) syncResources(ctx context.Context, tx *sql.Tx, naturalID string, incoming []fio.PlanetResourcePayload, tickers map[string]string) error {
	existing, err := im.Repo.PlanetResourcesTx(ctx, tx, naturalID)
	if err != nil {
		return err
	}
	current := make(map[string]domain.PlanetResource, len(existing))
	for _, r := range existing {
		current[r.MaterialID] = r
	}
	seen := make(map[string]bool, len(incoming))
	for _, pr := range incoming {
		want := resourceFromPayload(pr, tickers)
		seen[want.MaterialID] = true
		have, ok := current[want.MaterialID]
		switch {
		case !ok:
			if err := im.Repo.InsertPlanetResourceTx(ctx, tx, naturalID, want); err != nil {
				return err
			}
		case have != want:
			if err := im.Repo.UpdatePlanetResourceTx(ctx, tx, naturalID, want); err != nil {
				return err
			}
		}
	}
	for id := range current {
		if !seen[id] {
			if err := im.Repo.DeletePlanetResourceTx(ctx, tx, naturalID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (im *Importer) syncPrograms(ctx context.Context, tx *sql.Tx, naturalID string, incoming []fio.COGCProgramPayload) error {
	existing, err := im.Repo.PlanetProgramsTx(ctx, tx, naturalID)
	if err != nil {
		return err
	}
	current := make(map[domain.PlanetCOGCProgram]bool, len(existing))
	for _, pg := range existing {
		current[pg] = true
	}
	seen := make(map[domain.PlanetCOGCProgram]bool, len(incoming))
	for _, payload := range incoming {
		pg := programFromPayload(payload)
		seen[pg] = true
		if !current[pg] {
			if err := im.Repo.InsertPlanetProgramTx(ctx, tx, naturalID, pg); err != nil {
				return err
			}
		}
	}
	for pg := range current {
		if !seen[pg] {
			if err := im.Repo.DeletePlanetProgramTx(ctx, tx, naturalID, pg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (im *Importer) syncFees(ctx context.Context, tx *sql.Tx, naturalID string, incoming []fio.ProductionFeePayload) error {
	type feeKey struct{ category, level string }
	existing, err := im.Repo.PlanetFeesTx(ctx, tx, naturalID)
	if err != nil {
		return err
	}
	current := make(map[feeKey]domain.PlanetProductionFee, len(existing))
	for _, f := range existing {
		current[feeKey{f.Category, f.WorkforceLevel}] = f
	}
	seen := make(map[feeKey]bool, len(incoming))
	for _, payload := range incoming {
		want := feeFromPayload(payload)
		key := feeKey{want.Category, want.WorkforceLevel}
		seen[key] = true
		have, ok := current[key]
		switch {
		case !ok:
			if err := im.Repo.InsertPlanetFeeTx(ctx, tx, naturalID, want); err != nil {
				return err
			}
		case have != want:
			if err := im.Repo.UpdatePlanetFeeTx(ctx, tx, naturalID, want); err != nil {
				return err
			}
		}
	}
	for key := range current {
		if !seen[key] {
			if err := im.Repo.DeletePlanetFeeTx(ctx, tx, naturalID, key.category, key.level); err != nil {
				return err
			}
		}
	}
	return nil
}

// ImportAllPlanets does a full planet sync: every fetched planet is
// upserted and its child sets recreated wholesale. Planets absent from
// the response are left alone; they keep refreshing individually.
func (im *Importer) ImportAllPlanets(ctx context.Context) (int, error) {
	payloads, err := im.FIO.AllPlanets(ctx)
	if err != nil {
		return 0, err
	}
	tickers, err := im.Repo.MaterialTickerMap(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := im.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, payload := range payloads {
		planet := planetFromPayload(payload)
		if err := im.Repo.UpsertPlanetTx(ctx, tx, planet); err != nil {
			return 0, err
		}
		if err := im.Repo.DeletePlanetChildrenTx(ctx, tx, planet.NaturalID); err != nil {
			return 0, err
		}
		for _, pr := range payload.Resources {
			if err := im.Repo.InsertPlanetResourceTx(ctx, tx, planet.NaturalID, resourceFromPayload(pr, tickers)); err != nil {
				return 0, err
			}
		}
		for _, pg := range payload.COGCPrograms {
			if err := im.Repo.InsertPlanetProgramTx(ctx, tx, planet.NaturalID, programFromPayload(pg)); err != nil {
				return 0, err
			}
		}
		for _, f := range payload.ProductionFees {
			if err := im.Repo.InsertPlanetFeeTx(ctx, tx, planet.NaturalID, feeFromPayload(f)); err != nil {
				return 0, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	im.Cache.DeletePattern(cache.Key(cache.NamespaceGamedata, "planet") + "*")
	return len(payloads), nil
}

func (im *Importer) ImportAllMaterials(ctx context.Context) (int, error) {
	payloads, err := im.FIO.AllMaterials(ctx)
	if err != nil {
		return 0, err
	}
	materials := make([]domain.Material, 0, len(payloads))
	for _, p := range payloads {
		materials = append(materials, domain.Material{
			MaterialID:   p.MaterialID,
			CategoryID:   p.CategoryID,
			CategoryName: p.CategoryName,
			Name:         p.Name,
			Ticker:       p.Ticker,
			Weight:       p.Weight,
			Volume:       p.Volume,
		})
	}
	if err := im.replace(ctx, func(tx *sql.Tx) error {
		return im.Repo.ReplaceMaterialsTx(ctx, tx, materials)
	}); err != nil {
		return 0, err
	}
	im.Cache.Delete(cache.KeyMaterialList())
	return len(materials), nil
}

func (im *Importer) ImportAllBuildings(ctx context.Context) (int, error) {
	payloads, err := im.FIO.AllBuildings(ctx)
	if err != nil {
		return 0, err
	}
	buildings := make([]domain.Building, 0, len(payloads))
	for _, p := range payloads {
		b := domain.Building{
			BuildingID:  p.BuildingID,
			Name:        p.Name,
			Ticker:      p.Ticker,
			Pioneers:    p.Pioneers,
			Settlers:    p.Settlers,
			Technicians: p.Technicians,
			Engineers:   p.Engineers,
			Scientists:  p.Scientists,
			AreaCost:    p.AreaCost,
		}
		if p.Expertise != nil {
			b.Expertise = *p.Expertise
		}
		for _, c := range p.BuildingCosts {
			b.Costs = append(b.Costs, domain.BuildingCost{MaterialTicker: c.CommodityTicker, Amount: c.Amount})
		}
		buildings = append(buildings, b)
	}
	if err := im.replace(ctx, func(tx *sql.Tx) error {
		return im.Repo.ReplaceBuildingsTx(ctx, tx, buildings)
	}); err != nil {
		return 0, err
	}
	im.Cache.Delete(cache.KeyBuildingList())
	return len(buildings), nil
}

func (im *Importer) ImportAllRecipes(ctx context.Context) (int, error) {
	payloads, err := im.FIO.AllRecipes(ctx)
	if err != nil {
		return 0, err
	}
	recipes := make([]domain.Recipe, 0, len(payloads))
	for _, p := range payloads {
		rc := domain.Recipe{
			StandardName:   p.StandardRecipeName,
			Name:           p.RecipeName,
			BuildingTicker: p.BuildingTicker,
			TimeMs:         p.TimeMs,
		}
		for _, in := range p.Inputs {
			rc.Inputs = append(rc.Inputs, domain.RecipeMaterial{MaterialTicker: in.Ticker, Amount: in.Amount})
		}
		for _, out := range p.Outputs {
			rc.Outputs = append(rc.Outputs, domain.RecipeMaterial{MaterialTicker: out.Ticker, Amount: out.Amount})
		}
		recipes = append(recipes, rc)
	}
	if err := im.replace(ctx, func(tx *sql.Tx) error {
		return im.Repo.ReplaceRecipesTx(ctx, tx, recipes)
	}); err != nil {
		return 0, err
	}
	im.Cache.Delete(cache.KeyRecipeList())
	return len(recipes), nil
}

func (im *Importer) ImportAllExchanges(ctx context.Context) (int, error) {
	payloads, err := im.FIO.AllExchanges(ctx)
	if err != nil {
		return 0, err
	}
	if err := im.replace(ctx, func(tx *sql.Tx) error {
		for _, p := range payloads {
			e := domain.Exchange{
				TickerID:     p.TickerID(),
				Ticker:       p.MaterialTicker,
				ExchangeCode: p.ExchangeCode,
				MMBuy:        p.MMBuy,
				MMSell:       p.MMSell,
				PriceAverage: p.PriceAverage,
				Ask:          p.Ask,
				Bid:          p.Bid,
				AskCount:     p.AskCount,
				BidCount:     p.BidCount,
				Supply:       p.Supply,
				Demand:       p.Demand,
			}
			if err := im.Repo.UpsertExchangeTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	im.Cache.Delete(cache.KeyExchangeList())
	return len(payloads), nil
}

// ImportPlanetInfrastructure keeps only the most recent simulation
// periods for the planet.
func (im *Importer) ImportPlanetInfrastructure(ctx context.Context, naturalID string) (int, error) {
	payload, err := im.FIO.PlanetInfrastructure(ctx, naturalID)
	if err != nil {
		return 0, err
	}
	reports := payload.InfrastructureReports
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].SimulationPeriod > reports[j].SimulationPeriod
	})
	if len(reports) > maxInfrastructureReports {
		reports = reports[:maxInfrastructureReports]
	}
	rows := make([]domain.PlanetInfrastructureReport, 0, len(reports))
	for _, rep := range reports {
		rows = append(rows, domain.PlanetInfrastructureReport{
			SimulationPeriod:         rep.SimulationPeriod,
			ExplorersGraceEnabled:    rep.ExplorersGraceEnabled,
			NextPopulationPioneer:    rep.NextPopulationPioneer,
			NextPopulationSettler:    rep.NextPopulationSettler,
			NextPopulationTechnician: rep.NextPopulationTechnician,
			NextPopulationEngineer:   rep.NextPopulationEngineer,
			NextPopulationScientist:  rep.NextPopulationScientist,
			UnemploymentRatePioneer:  rep.UnemploymentRatePioneer,
			UnemploymentRateSettler:  rep.UnemploymentRateSettler,
		})
	}
	if err := im.replace(ctx, func(tx *sql.Tx) error {
		return im.Repo.ReplaceInfrastructureReportsTx(ctx, tx, naturalID, rows)
	}); err != nil {
		return 0, err
	}
	im.Cache.Delete(cache.KeyPlanetInfrastructure(naturalID))
	return len(rows), nil
}

// ImportPrices appends the daily bars for one ticker/exchange pair.
// Other intervals in the response are ignored.
func (im *Importer) ImportPrices(ctx context.Context, ticker, exchangeCode string) (int, error) {
	payloads, err := im.FIO.Prices(ctx, ticker, exchangeCode)
	if err != nil {
		return 0, err
	}
	var bars []domain.PriceBar
	for _, p := range payloads {
		if p.Interval != priceInterval {
			continue
		}
		bars = append(bars, domain.PriceBar{
			Ticker:       ticker,
			ExchangeCode: exchangeCode,
			DateEpochMs:  p.DateEpochMs,
			Open:         p.Open,
			Close:        p.Close,
			High:         p.High,
			Low:          p.Low,
			Volume:       p.Volume,
			Traded:       p.Traded,
		})
	}
	if err := im.replace(ctx, func(tx *sql.Tx) error {
		return im.Repo.InsertPriceBarsTx(ctx, tx, bars)
	}); err != nil {
		return 0, err
	}
	im.Cache.Delete(cache.KeyPrices(ticker, exchangeCode))
	im.Cache.Delete(cache.KeyPrices(ticker, ""))
	return len(bars), nil
}

// PlayerSnapshots carries one fetch of a player's external data.
type PlayerSnapshots struct {
	Storage    string
	Sites      string
	Warehouses string
	Ships      string
}

// FetchPlayerSnapshots pulls all four user endpoints with the player's
// own key. Any single failure fails the whole fetch; partial snapshots
// are never stored.
func (im *Importer) FetchPlayerSnapshots(ctx context.Context, username, apiKey string) (PlayerSnapshots, error) {
	var snaps PlayerSnapshots
	storage, err := im.FIO.UserStorage(ctx, username, apiKey)
	if err != nil {
		return snaps, err
	}
	sites, err := im.FIO.UserSites(ctx, username, apiKey)
	if err != nil {
		return snaps, err
	}
	warehouses, err := im.FIO.UserWarehouses(ctx, username, apiKey)
	if err != nil {
		return snaps, err
	}
	ships, err := im.FIO.UserShips(ctx, username, apiKey)
	if err != nil {
		return snaps, err
	}
	snaps.Storage = string(storage)
	snaps.Sites = string(sites)
	snaps.Warehouses = string(warehouses)
	snaps.Ships = string(ships)
	return snaps, nil
}

func (im *Importer) replace(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := im.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
