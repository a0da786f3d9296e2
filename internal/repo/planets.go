package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"prunsync/internal/domain"
)

const planetColumns = `natural_id,planet_id,name,system_id,gravity,pressure,temperature,fertility,surface,
gravity_type,pressure_type,temperature_type,fertile,
has_local_market,has_chamber_of_commerce,has_warehouse,has_administration_center,has_shipyard,
faction_code,currency_code,cogc_program_status,
base_local_market_fee,warehouse_fee,establishment_fee,` + automationColumns

func scanPlanet(scan func(dest ...any) error) (domain.Planet, error) {
	var p domain.Planet
	var name, factionCode, currencyCode, cogcStatus sql.NullString
	var surface, fertile, localMarket, chamber, warehouse, admin, shipyard int
	var status string
	var lastRefreshed, nextRetry, lastError sql.NullString
	var errCount int
	err := scan(
		&p.NaturalID, &p.PlanetID, &name, &p.SystemID, &p.Gravity, &p.Pressure, &p.Temperature, &p.Fertility, &surface,
		&p.GravityType, &p.PressureType, &p.TemperatureType, &fertile,
		&localMarket, &chamber, &warehouse, &admin, &shipyard,
		&factionCode, &currencyCode, &cogcStatus,
		&p.BaseLocalMarketFee, &p.WarehouseFee, &p.EstablishmentFee,
		&status, &lastRefreshed, &nextRetry, &errCount, &lastError,
	)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if name.Valid {
		p.Name = name.String
	}
	if factionCode.Valid {
		p.FactionCode = factionCode.String
	}
	if currencyCode.Valid {
		p.CurrencyCode = currencyCode.String
	}
	if cogcStatus.Valid {
		p.COGCProgramStatus = cogcStatus.String
	}
	p.Surface = surface != 0
	p.Fertile = fertile != 0
	p.HasLocalMarket = localMarket != 0
	p.HasChamberOfCommerce = chamber != 0
	p.HasWarehouse = warehouse != 0
	p.HasAdministrationCenter = admin != 0
	p.HasShipyard = shipyard != 0
	p.Automation, err = automationFromRow(status, lastRefreshed, nextRetry, lastError, errCount)
	return p, err
}

// UpsertPlanetTx writes the upstream-sourced planet fields. Automation
// columns are left untouched on conflict; they change only through
// UpdatePlanetAutomation.
func (r Repo) UpsertPlanetTx(ctx context.Context, tx *sql.Tx, p domain.Planet) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO planets(natural_id,planet_id,name,system_id,gravity,pressure,temperature,fertility,surface,
gravity_type,pressure_type,temperature_type,fertile,
has_local_market,has_chamber_of_commerce,has_warehouse,has_administration_center,has_shipyard,
faction_code,currency_code,cogc_program_status,
base_local_market_fee,warehouse_fee,establishment_fee)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(natural_id) DO UPDATE SET
planet_id=excluded.planet_id, name=excluded.name, system_id=excluded.system_id,
gravity=excluded.gravity, pressure=excluded.pressure, temperature=excluded.temperature, fertility=excluded.fertility, surface=excluded.surface,
gravity_type=excluded.gravity_type, pressure_type=excluded.pressure_type, temperature_type=excluded.temperature_type, fertile=excluded.fertile,
has_local_market=excluded.has_local_market, has_chamber_of_commerce=excluded.has_chamber_of_commerce, has_warehouse=excluded.has_warehouse,
has_administration_center=excluded.has_administration_center, has_shipyard=excluded.has_shipyard,
faction_code=excluded.faction_code, currency_code=excluded.currency_code, cogc_program_status=excluded.cogc_program_status,
base_local_market_fee=excluded.base_local_market_fee, warehouse_fee=excluded.warehouse_fee, establishment_fee=excluded.establishment_fee`,
		p.NaturalID, p.PlanetID, nullable(p.Name), p.SystemID, p.Gravity, p.Pressure, p.Temperature, p.Fertility, boolInt(p.Surface),
		p.GravityType, p.PressureType, p.TemperatureType, boolInt(p.Fertile),
		boolInt(p.HasLocalMarket), boolInt(p.HasChamberOfCommerce), boolInt(p.HasWarehouse), boolInt(p.HasAdministrationCenter), boolInt(p.HasShipyard),
		nullable(p.FactionCode), nullable(p.CurrencyCode), nullable(p.COGCProgramStatus),
		p.BaseLocalMarketFee, p.WarehouseFee, p.EstablishmentFee)
	return err
}

func (r Repo) GetPlanet(ctx context.Context, naturalID string) (domain.Planet, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+planetColumns+` FROM planets WHERE natural_id=?`, naturalID)
	return scanPlanet(row.Scan)
}

func (r Repo) ListPlanets(ctx context.Context) ([]domain.Planet, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+planetColumns+` FROM planets ORDER BY natural_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Planet
	for rows.Next() {
		p, err := scanPlanet(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) PlanetResourcesTx(ctx context.Context, tx *sql.Tx, naturalID string) ([]domain.PlanetResource, error) {
	rows, err := tx.QueryContext(ctx, `SELECT material_id,COALESCE(material_ticker,''),resource_type,factor,daily_extraction FROM planet_resources WHERE natural_id=?`, naturalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanetResource
	for rows.Next() {
		var pr domain.PlanetResource
		if err := rows.Scan(&pr.MaterialID, &pr.MaterialTicker, &pr.ResourceType, &pr.Factor, &pr.DailyExtraction); err != nil {
			return nil, err
		}
		res = append(res, pr)
	}
	return res, rows.Err()
}

func (r Repo) InsertPlanetResourceTx(ctx context.Context, tx *sql.Tx, naturalID string, pr domain.PlanetResource) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO planet_resources(natural_id,material_id,material_ticker,resource_type,factor,daily_extraction) VALUES (?,?,?,?,?,?)`,
		naturalID, pr.MaterialID, nullable(pr.MaterialTicker), pr.ResourceType, pr.Factor, pr.DailyExtraction)
	return err
}

func (r Repo) UpdatePlanetResourceTx(ctx context.Context, tx *sql.Tx, naturalID string, pr domain.PlanetResource) error {
	_, err := tx.ExecContext(ctx, `UPDATE planet_resources SET material_ticker=?, resource_type=?, factor=?, daily_extraction=? WHERE natural_id=? AND material_id=?`,
		nullable(pr.MaterialTicker), pr.ResourceType, pr.Factor, pr.DailyExtraction, naturalID, pr.MaterialID)
	return err
}

func (r Repo) DeletePlanetResourceTx(ctx context.Context, tx *sql.Tx, naturalID, materialID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM planet_resources WHERE natural_id=? AND material_id=?`, naturalID, materialID)
	return err
}

func (r Repo) PlanetProgramsTx(ctx context.Context, tx *sql.Tx, naturalID string) ([]domain.PlanetCOGCProgram, error) {
	rows, err := tx.QueryContext(ctx, `SELECT program_type,start_epoch_ms,end_epoch_ms FROM planet_cogc_programs WHERE natural_id=?`, naturalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanetCOGCProgram
	for rows.Next() {
		var pg domain.PlanetCOGCProgram
		if err := rows.Scan(&pg.ProgramType, &pg.StartEpochMs, &pg.EndEpochMs); err != nil {
			return nil, err
		}
		res = append(res, pg)
	}
	return res, rows.Err()
}

func (r Repo) InsertPlanetProgramTx(ctx context.Context, tx *sql.Tx, naturalID string, pg domain.PlanetCOGCProgram) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO planet_cogc_programs(natural_id,program_type,start_epoch_ms,end_epoch_ms) VALUES (?,?,?,?)`,
		naturalID, pg.ProgramType, pg.StartEpochMs, pg.EndEpochMs)
	return err
}

func (r Repo) DeletePlanetProgramTx(ctx context.Context, tx *sql.Tx, naturalID string, pg domain.PlanetCOGCProgram) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM planet_cogc_programs WHERE natural_id=? AND program_type=? AND start_epoch_ms=? AND end_epoch_ms=?`,
		naturalID, pg.ProgramType, pg.StartEpochMs, pg.EndEpochMs)
	return err
}

func (r Repo) PlanetFeesTx(ctx context.Context, tx *sql.Tx, naturalID string) ([]domain.PlanetProductionFee, error) {
	rows, err := tx.QueryContext(ctx, `SELECT category,workforce_level,fee_amount,fee_currency FROM planet_production_fees WHERE natural_id=?`, naturalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanetProductionFee
	for rows.Next() {
		var f domain.PlanetProductionFee
		if err := rows.Scan(&f.Category, &f.WorkforceLevel, &f.FeeAmount, &f.FeeCurrency); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) InsertPlanetFeeTx(ctx context.Context, tx *sql.Tx, naturalID string, f domain.PlanetProductionFee) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO planet_production_fees(natural_id,category,workforce_level,fee_amount,fee_currency) VALUES (?,?,?,?,?)`,
		naturalID, f.Category, f.WorkforceLevel, f.FeeAmount, f.FeeCurrency)
	return err
}

func (r Repo) UpdatePlanetFeeTx(ctx context.Context, tx *sql.Tx, naturalID string, f domain.PlanetProductionFee) error {
	_, err := tx.ExecContext(ctx, `UPDATE planet_production_fees SET fee_amount=?, fee_currency=? WHERE natural_id=? AND category=? AND workforce_level=?`,
		f.FeeAmount, f.FeeCurrency, naturalID, f.Category, f.WorkforceLevel)
	return err
}

func (r Repo) DeletePlanetFeeTx(ctx context.Context, tx *sql.Tx, naturalID, category, workforceLevel string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM planet_production_fees WHERE natural_id=? AND category=? AND workforce_level=?`,
		naturalID, category, workforceLevel)
	return err
}

// DeletePlanetChildrenTx clears resources, programs and fees ahead of a
// bulk recreate during a full planet sync.
func (r Repo) DeletePlanetChildrenTx(ctx context.Context, tx *sql.Tx, naturalID string) error {
	for _, table := range []string{"planet_resources", "planet_cogc_programs", "planet_production_fees"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE natural_id=?`, naturalID); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceInfrastructureReportsTx replaces the retained report set for a
// planet with the given one.
func (r Repo) ReplaceInfrastructureReportsTx(ctx context.Context, tx *sql.Tx, naturalID string, reports []domain.PlanetInfrastructureReport) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM planet_infrastructure_reports WHERE natural_id=?`, naturalID); err != nil {
		return err
	}
	for _, rep := range reports {
		_, err := tx.ExecContext(ctx, `INSERT INTO planet_infrastructure_reports(natural_id,simulation_period,explorers_grace_enabled,
next_population_pioneer,next_population_settler,next_population_technician,next_population_engineer,next_population_scientist,
unemployment_rate_pioneer,unemployment_rate_settler) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			naturalID, rep.SimulationPeriod, boolInt(rep.ExplorersGraceEnabled),
			rep.NextPopulationPioneer, rep.NextPopulationSettler, rep.NextPopulationTechnician, rep.NextPopulationEngineer, rep.NextPopulationScientist,
			rep.UnemploymentRatePioneer, rep.UnemploymentRateSettler)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListInfrastructureReports(ctx context.Context, naturalID string) ([]domain.PlanetInfrastructureReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT simulation_period,explorers_grace_enabled,
next_population_pioneer,next_population_settler,next_population_technician,next_population_engineer,next_population_scientist,
unemployment_rate_pioneer,unemployment_rate_settler FROM planet_infrastructure_reports WHERE natural_id=? ORDER BY simulation_period DESC`, naturalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanetInfrastructureReport
	for rows.Next() {
		var rep domain.PlanetInfrastructureReport
		var grace int
		if err := rows.Scan(&rep.SimulationPeriod, &grace,
			&rep.NextPopulationPioneer, &rep.NextPopulationSettler, &rep.NextPopulationTechnician, &rep.NextPopulationEngineer, &rep.NextPopulationScientist,
			&rep.UnemploymentRatePioneer, &rep.UnemploymentRateSettler); err != nil {
			return nil, err
		}
		rep.ExplorersGraceEnabled = grace != 0
		res = append(res, rep)
	}
	return res, rows.Err()
}

// SearchPlanets applies a typed filter; see domain.PlanetSearch for the
// semantics of each field. COGC program matches require the program
// window to cover now.
func (r Repo) SearchPlanets(ctx context.Context, f domain.PlanetSearch, now time.Time) ([]domain.Planet, error) {
	clauses := []string{"1=1"}
	var args []any

	for _, ticker := range f.Materials {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM planet_resources r WHERE r.natural_id=planets.natural_id AND r.material_ticker=?)`)
		args = append(args, ticker)
	}
	if len(f.COGCPrograms) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.COGCPrograms)), ",")
		clauses = append(clauses, `EXISTS (SELECT 1 FROM planet_cogc_programs c WHERE c.natural_id=planets.natural_id
AND c.program_type IN (`+placeholders+`) AND c.start_epoch_ms<=? AND c.end_epoch_ms>=?)`)
		for _, pg := range f.COGCPrograms {
			args = append(args, pg)
		}
		nowMs := now.UnixMilli()
		args = append(args, nowMs, nowMs)
	}
	if f.MustBeFertile {
		clauses = append(clauses, "fertile=1")
	}
	amenities := []struct {
		column string
		want   *bool
	}{
		{"has_local_market", f.LocalMarket},
		{"has_chamber_of_commerce", f.ChamberOfCommerce},
		{"has_warehouse", f.Warehouse},
		{"has_administration_center", f.AdministrationCenter},
		{"has_shipyard", f.Shipyard},
	}
	for _, a := range amenities {
		if a.want == nil {
			continue
		}
		clauses = append(clauses, a.column+"=?")
		args = append(args, boolInt(*a.want))
	}
	if f.Rocky != f.Gaseous {
		clauses = append(clauses, "surface=?")
		args = append(args, boolInt(f.Rocky))
	}
	envClause := func(column string, low, high bool) {
		allowed := []string{"'" + domain.EnvNormal + "'"}
		if low {
			allowed = append(allowed, "'"+domain.EnvLow+"'")
		}
		if high {
			allowed = append(allowed, "'"+domain.EnvHigh+"'")
		}
		clauses = append(clauses, column+" IN ("+strings.Join(allowed, ",")+")")
	}
	envClause("gravity_type", f.LowGravity, f.HighGravity)
	envClause("pressure_type", f.LowPressure, f.HighPressure)
	envClause("temperature_type", f.LowTemperature, f.HighTemperature)

	query := `SELECT ` + planetColumns + ` FROM planets WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY natural_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Planet
	for rows.Next() {
		p, err := scanPlanet(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
