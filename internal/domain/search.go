package domain

// PlanetSearch is a typed planet search request. Amenity requirements
// are tri-state: nil means "don't care", true requires the amenity,
// false requires its absence. Environment flags widen the accepted
// classification beyond NORMAL.
type PlanetSearch struct {
	// Planet must offer every listed material ticker.
	Materials []string
	// Planet must run one of the listed COGC programs, active.
	COGCPrograms []string

	MustBeFertile bool

	LocalMarket          *bool
	ChamberOfCommerce    *bool
	Warehouse            *bool
	AdministrationCenter *bool
	Shipyard             *bool

	// Surface type; when both or neither are set, no filter applies.
	Rocky   bool
	Gaseous bool

	LowGravity      bool
	HighGravity     bool
	LowPressure     bool
	HighPressure    bool
	LowTemperature  bool
	HighTemperature bool
}
