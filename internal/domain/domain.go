// Package domain holds the entities mirrored from the FIO game API and
// the value types shared across the sync engine.
package domain

import "time"

// Environment classification for gravity, pressure and temperature.
const (
	EnvNormal = "NORMAL"
	EnvLow    = "LOW"
	EnvHigh   = "HIGH"
)

// Resource types reported by the upstream.
const (
	ResourceLiquid  = "LIQUID"
	ResourceGaseous = "GASEOUS"
	ResourceMineral = "MINERAL"
)

// Planet is a locally stored mirror of one upstream planet. NaturalID is
// the 7-character code assigned upstream and never changes; everything
// else is replaced on refresh.
type Planet struct {
	PlanetID  string
	NaturalID string
	Name      string
	SystemID  string

	Gravity     float64
	Pressure    float64
	Temperature float64
	Fertility   float64
	Surface     bool

	// Derived locally, never trusted from upstream.
	GravityType     string
	PressureType    string
	TemperatureType string
	Fertile         bool

	HasLocalMarket          bool
	HasChamberOfCommerce    bool
	HasWarehouse            bool
	HasAdministrationCenter bool
	HasShipyard             bool

	FactionCode       string
	CurrencyCode      string
	COGCProgramStatus string

	BaseLocalMarketFee float64
	WarehouseFee       float64
	EstablishmentFee   float64

	Automation AutomationState
}

// PlanetResource is a child of Planet, unique per (planet, material).
type PlanetResource struct {
	MaterialID     string
	MaterialTicker string
	ResourceType   string
	Factor         float64

	// DailyExtraction is recomputed on every write, see Extraction.
	DailyExtraction float64
}

// PlanetCOGCProgram is a time-windowed program, unique per
// (planet, program type, start, end). ProgramType may be empty when the
// upstream reports an unset program.
type PlanetCOGCProgram struct {
	ProgramType  string
	StartEpochMs int64
	EndEpochMs   int64
}

// PlanetProductionFee is unique per (planet, category, workforce level).
type PlanetProductionFee struct {
	Category       string
	WorkforceLevel string
	FeeAmount      float64
	FeeCurrency    string
}

// PlanetInfrastructureReport is one population simulation period.
// Only the most recent periods are retained locally.
type PlanetInfrastructureReport struct {
	SimulationPeriod         int64
	ExplorersGraceEnabled    bool
	NextPopulationPioneer    int64
	NextPopulationSettler    int64
	NextPopulationTechnician int64
	NextPopulationEngineer   int64
	NextPopulationScientist  int64
	UnemploymentRatePioneer  float64
	UnemploymentRateSettler  float64
}

type Material struct {
	MaterialID   string
	CategoryID   string
	CategoryName string
	Name         string
	Ticker       string
	Weight       float64
	Volume       float64
}

type Building struct {
	BuildingID  string
	Name        string
	Ticker      string
	Expertise   string
	Pioneers    int64
	Settlers    int64
	Technicians int64
	Engineers   int64
	Scientists  int64
	AreaCost    int64
	Costs       []BuildingCost
}

type BuildingCost struct {
	MaterialTicker string
	Amount         int64
}

type Recipe struct {
	StandardName   string
	Name           string
	BuildingTicker string
	TimeMs         int64
	Inputs         []RecipeMaterial
	Outputs        []RecipeMaterial
}

type RecipeMaterial struct {
	MaterialTicker string
	Amount         int64
}

// Exchange is one material/exchange pair; TickerID ("RAT.AI1") is the
// natural key used for upserts.
type Exchange struct {
	TickerID     string
	Ticker       string
	ExchangeCode string
	MMBuy        *float64
	MMSell       *float64
	PriceAverage float64
	Ask          *float64
	Bid          *float64
	AskCount     *int64
	BidCount     *int64
	Supply       *int64
	Demand       *int64
}

// PriceBar is one daily OHLC bar in the append-only price series.
type PriceBar struct {
	Ticker       string
	ExchangeCode string
	DateEpochMs  int64
	Open         float64
	Close        float64
	High         float64
	Low          float64
	Volume       float64
	Traded       int64
}

// ExchangeAnalytics is a derived rolling-window aggregate, written only
// by the analytics refresh, never by importers.
type ExchangeAnalytics struct {
	Ticker       string
	ExchangeCode string
	WindowDays   int
	AvgPrice     float64
	AvgVolume    float64
	BarCount     int64
	ComputedAt   time.Time
}

// Player is one user's linked FIO account plus the latest snapshot of
// their external data. Snapshots are stored as opaque JSON payloads.
type Player struct {
	UserID       string
	Username     string
	APIKey       string
	LastActiveAt *time.Time

	StorageJSON    string
	SitesJSON      string
	WarehousesJSON string
	ShipsJSON      string

	Automation AutomationState
}

// Extraction returns the daily extraction yield for a resource:
// gaseous resources extract factor*60 per day, everything else
// factor*70.
func Extraction(resourceType string, factor float64) float64 {
	if resourceType == ResourceGaseous {
		return factor * 60.0
	}
	return factor * 70.0
}

// Classify buckets an environment value against its normal range.
func Classify(value, lower, upper float64) string {
	switch {
	case value < lower:
		return EnvLow
	case value > upper:
		return EnvHigh
	default:
		return EnvNormal
	}
}

// Environment boundaries used when classifying planets.
const (
	GravityLower     = 0.25
	GravityUpper     = 2.5
	PressureLower    = 0.25
	PressureUpper    = 2.0
	TemperatureLower = -25.0
	TemperatureUpper = 75.0
)

// DeriveEnvironment fills the locally computed classification fields
// from the raw measurements.
func (p *Planet) DeriveEnvironment() {
	p.GravityType = Classify(p.Gravity, GravityLower, GravityUpper)
	p.PressureType = Classify(p.Pressure, PressureLower, PressureUpper)
	p.TemperatureType = Classify(p.Temperature, TemperatureLower, TemperatureUpper)
	p.Fertile = p.Fertility > -1.0
}
