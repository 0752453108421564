package world

// Stable component kind names. These key both the wire payloads and the graph
// component envelopes, so they must never change for a shipped component.
const (
	KindPosition       = "position_m"
	KindVelocity       = "velocity_mps"
	KindRotation       = "rotation"
	KindMass           = "mass_kg"
	KindDisplayName    = "display_name"
	KindShipTag        = "ship_tag"
	KindModuleTag      = "module_tag"
	KindHardpoint      = "hardpoint"
	KindMountedOn      = "mounted_on"
	KindEngine         = "engine"
	KindFuelTank       = "fuel_tank"
	KindFlightComputer = "flight_computer"
	KindHealthPool     = "health_pool"
	KindCargo          = "cargo"
	KindScanner        = "scanner"
	KindScannerBuff    = "scanner_range_buff"
	KindOwnerRef       = "owner_id"
)

// Component is a typed, serializable value keyed by a stable kind name. The
// concrete struct is JSON-encodable; the same encoding serves the wire and the
// graph store.
type Component interface {
	Kind() string
	Clone() Component
}

// Vec3 is a plain 3-vector in world units (meters, meters per second).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Position is the authoritative world position, mirrored from the physics
// collaborator every tick.
type Position struct {
	Pos Vec3 `json:"pos"`
}

func (c *Position) Kind() string     { return KindPosition }
func (c *Position) Clone() Component { cp := *c; return &cp }

// Velocity carries linear and angular velocity.
type Velocity struct {
	Linear  Vec3 `json:"linear"`
	Angular Vec3 `json:"angular"`
}

func (c *Velocity) Kind() string     { return KindVelocity }
func (c *Velocity) Clone() Component { cp := *c; return &cp }

// Rotation is a unit quaternion.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

func (c *Rotation) Kind() string     { return KindRotation }
func (c *Rotation) Clone() Component { cp := *c; return &cp }

// Mass aggregates hull, cargo and mounted-module mass. TotalKg is recomputed
// by the mass rule whenever mounts or cargo change and is what the physics
// collaborator sees.
type Mass struct {
	BaseKg   float64 `json:"base_kg"`
	CargoKg  float64 `json:"cargo_kg"`
	ModuleKg float64 `json:"module_kg"`
	TotalKg  float64 `json:"total_kg"`
}

func (c *Mass) Kind() string     { return KindMass }
func (c *Mass) Clone() Component { cp := *c; return &cp }

type DisplayName struct {
	Name string `json:"name"`
}

func (c *DisplayName) Kind() string     { return KindDisplayName }
func (c *DisplayName) Clone() Component { cp := *c; return &cp }

// ShipTag marks an entity as a ship hull. Capability tag, no data.
type ShipTag struct{}

func (c *ShipTag) Kind() string     { return KindShipTag }
func (c *ShipTag) Clone() Component { return &ShipTag{} }

// ModuleTag marks an entity as a mountable module.
type ModuleTag struct{}

func (c *ModuleTag) Kind() string     { return KindModuleTag }
func (c *ModuleTag) Clone() Component { return &ModuleTag{} }

// Hardpoint is a named mount slot with a local offset from the parent origin.
type Hardpoint struct {
	HardpointID string `json:"hardpoint_id"`
	OffsetM     Vec3   `json:"offset_m"`
}

func (c *Hardpoint) Kind() string     { return KindHardpoint }
func (c *Hardpoint) Clone() Component { cp := *c; return &cp }

// MountedOn attaches a module entity to a hardpoint of a parent entity. The
// runtime edge index mirrors this component; the local offset is restored from
// the parent's Hardpoint during hydration.
type MountedOn struct {
	ParentID    EntityID `json:"parent_entity_id"`
	HardpointID string   `json:"hardpoint_id"`
	OffsetM     Vec3     `json:"offset_m"`
}

func (c *MountedOn) Kind() string     { return KindMountedOn }
func (c *MountedOn) Clone() Component { cp := *c; return &cp }

// Engine is a thrust-capable module. Presence of this component is the
// capability check for thrust.
type Engine struct {
	ThrustN     float64 `json:"thrust_n"`
	BurnRateKgS float64 `json:"burn_rate_kg_s"`
	ThrustDir   Vec3    `json:"thrust_dir"`
}

func (c *Engine) Kind() string     { return KindEngine }
func (c *Engine) Clone() Component { cp := *c; return &cp }

type FuelTank struct {
	FuelKg float64 `json:"fuel_kg"`
}

func (c *FuelTank) Kind() string     { return KindFuelTank }
func (c *FuelTank) Clone() Component { cp := *c; return &cp }

// FlightComputer translates intent into control state consumed by mounted
// engines.
type FlightComputer struct {
	Profile      string  `json:"profile"`
	Throttle     float64 `json:"throttle"`
	YawInput     float64 `json:"yaw_input"`
	TurnRateDegS float64 `json:"turn_rate_deg_s"`
	HeadingRad   float64 `json:"heading_rad"`
}

func (c *FlightComputer) Kind() string     { return KindFlightComputer }
func (c *FlightComputer) Clone() Component { cp := *c; return &cp }

type HealthPool struct {
	Current float64 `json:"current"`
	Maximum float64 `json:"maximum"`
}

func (c *HealthPool) Kind() string     { return KindHealthPool }
func (c *HealthPool) Clone() Component { cp := *c; return &cp }

// CargoItem is one stack inside a cargo hold.
type CargoItem struct {
	ItemID   string  `json:"item_id"`
	Quantity int64   `json:"quantity"`
	UnitKg   float64 `json:"unit_kg"`
}

// Cargo holds item stacks. Items are owner-only data; SummaryKg is the
// coarse figure a cargo_summary scan grant exposes.
type Cargo struct {
	Items     []CargoItem `json:"items"`
	SummaryKg float64     `json:"summary_kg"`
}

func (c *Cargo) Kind() string { return KindCargo }
func (c *Cargo) Clone() Component {
	cp := &Cargo{SummaryKg: c.SummaryKg}
	cp.Items = append([]CargoItem(nil), c.Items...)
	return cp
}

// Scanner grants its holder a detection radius used when issuing scan grants.
type Scanner struct {
	BaseRangeM float64 `json:"base_range_m"`
}

func (c *Scanner) Kind() string     { return KindScanner }
func (c *Scanner) Clone() Component { cp := *c; return &cp }

// ScannerRangeBuff modifies the effective scanner range of the entity it sits
// on: effective = base*Multiplier + FlatBonusM.
type ScannerRangeBuff struct {
	Multiplier float64 `json:"multiplier"`
	FlatBonusM float64 `json:"flat_bonus_m"`
}

func (c *ScannerRangeBuff) Kind() string     { return KindScannerBuff }
func (c *ScannerRangeBuff) Clone() Component { cp := *c; return &cp }

// OwnerRef records which account/faction controls the entity. Authorization
// is always resolved server-side from this component plus the ledger, never
// inferred from anything a client sends.
type OwnerRef struct {
	OwnerKind OwnerKind `json:"owner_kind"`
	OwnerID   string    `json:"owner_id"`
}

func (c *OwnerRef) Kind() string     { return KindOwnerRef }
func (c *OwnerRef) Clone() Component { cp := *c; return &cp }
