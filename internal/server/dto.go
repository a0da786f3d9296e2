package server

import (
	"encoding/json"
	"time"

	"prunsync/internal/domain"
	"prunsync/internal/events"
)

type AutomationResponse struct {
	Status          string     `json:"status"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	ErrorCount      int        `json:"error_count"`
	LastError       string     `json:"last_error,omitempty"`
}

func automationResponse(st domain.AutomationState) AutomationResponse {
	return AutomationResponse{
		Status:          st.Status,
		LastRefreshedAt: st.LastRefreshedAt,
		NextRetryAt:     st.NextRetryAt,
		ErrorCount:      st.ErrorCount,
		LastError:       st.LastError,
	}
}

type PlanetResponse struct {
	NaturalID       string  `json:"natural_id"`
	Name            string  `json:"name,omitempty"`
	SystemID        string  `json:"system_id"`
	Gravity         float64 `json:"gravity"`
	Pressure        float64 `json:"pressure"`
	Temperature     float64 `json:"temperature"`
	Fertility       float64 `json:"fertility"`
	Surface         bool    `json:"surface"`
	GravityType     string  `json:"gravity_type"`
	PressureType    string  `json:"pressure_type"`
	TemperatureType string  `json:"temperature_type"`
	Fertile         bool    `json:"fertile"`

	HasLocalMarket          bool `json:"has_local_market"`
	HasChamberOfCommerce    bool `json:"has_chamber_of_commerce"`
	HasWarehouse            bool `json:"has_warehouse"`
	HasAdministrationCenter bool `json:"has_administration_center"`
	HasShipyard             bool `json:"has_shipyard"`

	FactionCode       string `json:"faction_code,omitempty"`
	CurrencyCode      string `json:"currency_code,omitempty"`
	COGCProgramStatus string `json:"cogc_program_status,omitempty"`

	Automation AutomationResponse `json:"automation"`
}

func planetResponse(p domain.Planet) PlanetResponse {
	return PlanetResponse{
		NaturalID:               p.NaturalID,
		Name:                    p.Name,
		SystemID:                p.SystemID,
		Gravity:                 p.Gravity,
		Pressure:                p.Pressure,
		Temperature:             p.Temperature,
		Fertility:               p.Fertility,
		Surface:                 p.Surface,
		GravityType:             p.GravityType,
		PressureType:            p.PressureType,
		TemperatureType:         p.TemperatureType,
		Fertile:                 p.Fertile,
		HasLocalMarket:          p.HasLocalMarket,
		HasChamberOfCommerce:    p.HasChamberOfCommerce,
		HasWarehouse:            p.HasWarehouse,
		HasAdministrationCenter: p.HasAdministrationCenter,
		HasShipyard:             p.HasShipyard,
		FactionCode:             p.FactionCode,
		CurrencyCode:            p.CurrencyCode,
		COGCProgramStatus:       p.COGCProgramStatus,
		Automation:              automationResponse(p.Automation),
	}
}

func mapPlanets(planets []domain.Planet) []PlanetResponse {
	res := make([]PlanetResponse, 0, len(planets))
	for _, p := range planets {
		res = append(res, planetResponse(p))
	}
	return res
}

// PlanetSearchRequest mirrors domain.PlanetSearch on the wire. Amenity
// fields are tri-state: absent means no filter.
type PlanetSearchRequest struct {
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

func (r PlanetSearchRequest) toDomain() domain.PlanetSearch {
	return domain.PlanetSearch{
		Materials:            r.Materials,
		COGCPrograms:         r.COGCPrograms,
		MustBeFertile:        r.MustBeFertile,
		LocalMarket:          r.LocalMarket,
		ChamberOfCommerce:    r.ChamberOfCommerce,
		Warehouse:            r.Warehouse,
		AdministrationCenter: r.AdministrationCenter,
		Shipyard:             r.Shipyard,
		Rocky:                r.Rocky,
		Gaseous:              r.Gaseous,
		LowGravity:           r.LowGravity,
		HighGravity:          r.HighGravity,
		LowPressure:          r.LowPressure,
		HighPressure:         r.HighPressure,
		LowTemperature:       r.LowTemperature,
		HighTemperature:      r.HighTemperature,
	}
}

type StatusResponse struct {
	Planets      map[string]int `json:"planets"`
	Players      map[string]int `json:"players"`
	CacheEntries int            `json:"cache_entries"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Collection string `json:"collection"`
	NaturalID  string `json:"natural_id,omitempty"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func mapEvents(items []events.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Collection: e.Collection,
			NaturalID:  e.NaturalID,
			Outcome:    e.Outcome,
			Detail:     e.Detail,
			DurationMs: e.DurationMs,
		})
	}
	return res
}

type RegisterPlayerRequest struct {
	UserID   string `json:"user_id" required:"false"`
	Username string `json:"username" required:"false"`
	APIKey   string `json:"api_key" required:"false"`
}

type PlayerResponse struct {
	UserID       string             `json:"user_id"`
	Username     string             `json:"username"`
	LastActiveAt *time.Time         `json:"last_active_at,omitempty"`
	Automation   AutomationResponse `json:"automation"`
}

func playerResponse(p domain.Player) PlayerResponse {
	return PlayerResponse{
		UserID:       p.UserID,
		Username:     p.Username,
		LastActiveAt: p.LastActiveAt,
		Automation:   automationResponse(p.Automation),
	}
}

// PlayerDataResponse carries the raw FIO snapshots verbatim; absent
// snapshots (player never refreshed) serialize as null.
type PlayerDataResponse struct {
	UserID     string          `json:"user_id"`
	Storage    json.RawMessage `json:"storage"`
	Sites      json.RawMessage `json:"sites"`
	Warehouses json.RawMessage `json:"warehouses"`
	Ships      json.RawMessage `json:"ships"`
}

func playerDataResponse(p domain.Player) PlayerDataResponse {
	return PlayerDataResponse{
		UserID:     p.UserID,
		Storage:    rawSnapshot(p.StorageJSON),
		Sites:      rawSnapshot(p.SitesJSON),
		Warehouses: rawSnapshot(p.WarehousesJSON),
		Ships:      rawSnapshot(p.ShipsJSON),
	}
}

func rawSnapshot(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

type RefreshResponse struct {
	Collection string `json:"collection"`
	NaturalID  string `json:"natural_id,omitempty"`
	Refreshed  bool   `json:"refreshed"`
	Detail     string `json:"detail,omitempty"`
}
