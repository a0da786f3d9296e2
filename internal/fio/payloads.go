package fio

// Wire types for FIO responses. Field names follow the upstream's own
// naming; payloads are validated against the embedded JSON schemas
// before they are decoded into these structs.

type MaterialPayload struct {
	MaterialID   string  `json:"MaterialId"`
	CategoryName string  `json:"CategoryName"`
	CategoryID   string  `json:"CategoryId"`
	Name         string  `json:"Name"`
	Ticker       string  `json:"Ticker"`
	Weight       float64 `json:"Weight"`
	Volume       float64 `json:"Volume"`
}

type PlanetResourcePayload struct {
	MaterialID   string  `json:"MaterialId"`
	ResourceType string  `json:"ResourceType"`
	Factor       float64 `json:"Factor"`
}

type COGCProgramPayload struct {
	ProgramType  *string `json:"ProgramType"`
	StartEpochMs int64   `json:"StartEpochMs"`
	EndEpochMs   int64   `json:"EndEpochMs"`
}

type ProductionFeePayload struct {
	Category       string  `json:"Category"`
	WorkforceLevel string  `json:"WorkforceLevel"`
	FeeAmount      float64 `json:"FeeAmount"`
	FeeCurrency    string  `json:"FeeCurrency"`
}

type PlanetPayload struct {
	PlanetID                string  `json:"PlanetId"`
	PlanetNaturalID         string  `json:"PlanetNaturalId"`
	PlanetName              *string `json:"PlanetName"`
	SystemID                string  `json:"SystemId"`
	Gravity                 float64 `json:"Gravity"`
	Pressure                float64 `json:"Pressure"`
	Temperature             float64 `json:"Temperature"`
	Fertility               float64 `json:"Fertility"`
	Surface                 bool    `json:"Surface"`
	HasLocalMarket          bool    `json:"HasLocalMarket"`
	HasChamberOfCommerce    bool    `json:"HasChamberOfCommerce"`
	HasWarehouse            bool    `json:"HasWarehouse"`
	HasAdministrationCenter bool    `json:"HasAdministrationCenter"`
	HasShipyard             bool    `json:"HasShipyard"`
	FactionCode             *string `json:"FactionCode"`
	CurrencyCode            *string `json:"CurrencyCode"`
	COGCProgramStatus       *string `json:"COGCProgramStatus"`
	BaseLocalMarketFee      float64 `json:"BaseLocalMarketFee"`
	WarehouseFee            float64 `json:"WarehouseFee"`
	EstablishmentFee        float64 `json:"EstablishmentFee"`

	Resources      []PlanetResourcePayload `json:"Resources"`
	COGCPrograms   []COGCProgramPayload    `json:"COGCPrograms"`
	ProductionFees []ProductionFeePayload  `json:"ProductionFees"`
}

type BuildingCostPayload struct {
	CommodityTicker string `json:"CommodityTicker"`
	Amount          int64  `json:"Amount"`
}

type BuildingPayload struct {
	BuildingID  string  `json:"BuildingId"`
	Name        string  `json:"Name"`
	Ticker      string  `json:"Ticker"`
	Expertise   *string `json:"Expertise"`
	Pioneers    int64   `json:"Pioneers"`
	Settlers    int64   `json:"Settlers"`
	Technicians int64   `json:"Technicians"`
	Engineers   int64   `json:"Engineers"`
	Scientists  int64   `json:"Scientists"`
	AreaCost    int64   `json:"AreaCost"`

	BuildingCosts []BuildingCostPayload `json:"BuildingCosts"`
}

type RecipeMaterialPayload struct {
	Ticker string `json:"Ticker"`
	Amount int64  `json:"Amount"`
}

type RecipePayload struct {
	StandardRecipeName string                  `json:"StandardRecipeName"`
	RecipeName         string                  `json:"RecipeName"`
	BuildingTicker     string                  `json:"BuildingTicker"`
	TimeMs             int64                   `json:"TimeMs"`
	Inputs             []RecipeMaterialPayload `json:"Inputs"`
	Outputs            []RecipeMaterialPayload `json:"Outputs"`
}

type ExchangePayload struct {
	MaterialTicker string   `json:"MaterialTicker"`
	ExchangeCode   string   `json:"ExchangeCode"`
	MMBuy          *float64 `json:"MMBuy"`
	MMSell         *float64 `json:"MMSell"`
	PriceAverage   float64  `json:"PriceAverage"`
	Ask            *float64 `json:"Ask"`
	Bid            *float64 `json:"Bid"`
	AskCount       *int64   `json:"AskCount"`
	BidCount       *int64   `json:"BidCount"`
	Supply         *int64   `json:"Supply"`
	Demand         *int64   `json:"Demand"`
}

// TickerID returns the natural key for upserts, e.g. "RAT.AI1".
func (e ExchangePayload) TickerID() string {
	return e.MaterialTicker + "." + e.ExchangeCode
}

type PricePayload struct {
	Interval    string  `json:"Interval"`
	DateEpochMs int64   `json:"DateEpochMs"`
	Open        float64 `json:"Open"`
	Close       float64 `json:"Close"`
	High        float64 `json:"High"`
	Low         float64 `json:"Low"`
	Volume      float64 `json:"Volume"`
	Traded      int64   `json:"Traded"`
}

type InfrastructureReportPayload struct {
	InfrastructureReportID   string  `json:"InfrastructureReportId"`
	ExplorersGraceEnabled    bool    `json:"ExplorersGraceEnabled"`
	SimulationPeriod         int64   `json:"SimulationPeriod"`
	NextPopulationPioneer    int64   `json:"NextPopulationPioneer"`
	NextPopulationSettler    int64   `json:"NextPopulationSettler"`
	NextPopulationTechnician int64   `json:"NextPopulationTechnician"`
	NextPopulationEngineer   int64   `json:"NextPopulationEngineer"`
	NextPopulationScientist  int64   `json:"NextPopulationScientist"`
	UnemploymentRatePioneer  float64 `json:"UnemploymentRatePioneer"`
	UnemploymentRateSettler  float64 `json:"UnemploymentRateSettler"`
}

type InfrastructurePayload struct {
	InfrastructureReports []InfrastructureReportPayload `json:"InfrastructureReports"`
}
