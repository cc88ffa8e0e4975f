package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type LoadStatus string

// Статусы груза в цепочке передачи.
const (
	LoadStatusPending   LoadStatus = "PENDING"
	LoadStatusAssigned  LoadStatus = "ASSIGNED"
	LoadStatusInTransit LoadStatus = "IN_TRANSIT"
	LoadStatusDelivered LoadStatus = "DELIVERED"
	LoadStatusRecycled  LoadStatus = "RECYCLED"
	LoadStatusCancelled LoadStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition can leave the status.
func (s LoadStatus) IsTerminal() bool {
	return s == LoadStatusRecycled || s == LoadStatusCancelled
}

// HasAgent reports whether a load in this status must carry an assigned agent.
func (s LoadStatus) HasAgent() bool {
	switch s {
	case LoadStatusAssigned, LoadStatusInTransit, LoadStatusDelivered, LoadStatusRecycled:
		return true
	default:
		return false
	}
}

type Trigger string

const (
	TriggerClaim   Trigger = "claim"
	TriggerStart   Trigger = "start"
	TriggerDeliver Trigger = "deliver"
	TriggerRecycle Trigger = "recycle"
	TriggerCancel  Trigger = "cancel"
)

type Role string

const (
	RoleFarmer   Role = "FARMER"
	RoleSeller   Role = "SELLER"
	RoleAgent    Role = "AGENT"
	RoleRecycler Role = "RECYCLER"
	RoleAdmin    Role = "ADMIN"
)

// Actor is the authenticated caller on whose behalf an operation runs.
type Actor struct {
	ID   string
	Role Role
}

type Coordinate struct {
	Lat float64
	Lon float64
}

// Bound is a lat/lon box. MinLon > MaxLon means the box crosses the antimeridian.
type Bound struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
	// Origin is the point the box was built around. Nil means the box centre.
	Origin *Coordinate
}

// Center is Origin when set, otherwise the midpoint of the box.
func (b Bound) Center() Coordinate {
	if b.Origin != nil {
		return *b.Origin
	}
	c := Coordinate{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
	if b.WrapsAntimeridian() {
		c.Lon += 180
		if c.Lon > 180 {
			c.Lon -= 360
		}
	}
	return c
}

// LonScale shrinks a longitude delta to latitude degrees at the centre.
func (b Bound) LonScale() float64 {
	return math.Cos(b.Center().Lat * math.Pi / 180)
}

// SquaredDegrees orders points by distance from the centre. It is an
// equirectangular approximation and only meant for ranking inside the box.
func (b Bound) SquaredDegrees(c Coordinate) float64 {
	ctr := b.Center()
	dLon := math.Abs(c.Lon - ctr.Lon)
	if dLon > 180 {
		dLon = 360 - dLon
	}
	dLat := c.Lat - ctr.Lat
	dx := dLon * b.LonScale()
	return dLat*dLat + dx*dx
}

func (b Bound) WrapsAntimeridian() bool {
	return b.MinLon > b.MaxLon
}

func (b Bound) Contains(c Coordinate) bool {
	if c.Lat < b.MinLat || c.Lat > b.MaxLat {
		return false
	}
	if b.WrapsAntimeridian() {
		return c.Lon >= b.MinLon || c.Lon <= b.MaxLon
	}
	return c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

type Load struct {
	ID              uuid.UUID
	OwnerID         string
	AssignedAgentID *string
	WasteType       string
	Quantity        float64 // метрические тонны
	Coordinates     *Coordinate
	Status          LoadStatus
	Title           string
	Address         string
	Notes           string
	PricePerTon     *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	TerminalAt      *time.Time
}

// Clone returns a deep copy, so callers can mutate the result freely.
func (l *Load) Clone() *Load {
	if l == nil {
		return nil
	}
	c := *l
	if l.AssignedAgentID != nil {
		v := *l.AssignedAgentID
		c.AssignedAgentID = &v
	}
	if l.Coordinates != nil {
		v := *l.Coordinates
		c.Coordinates = &v
	}
	if l.PricePerTon != nil {
		v := *l.PricePerTon
		c.PricePerTon = &v
	}
	if l.TerminalAt != nil {
		v := *l.TerminalAt
		c.TerminalAt = &v
	}
	return &c
}

type LoadCreateInput struct {
	WasteType   string
	Quantity    float64
	Coordinates *Coordinate
	Title       string
	Address     string
	Notes       string
	PricePerTon *float64
}

type LoadWithDistance struct {
	Load       *Load
	DistanceKm float64
}

// LoadEvent is one accepted transition. It doubles as the outbox row the
// worker relays to the broker.
type LoadEvent struct {
	ID              uint64
	LoadID          uuid.UUID
	FromStatus      LoadStatus
	ToStatus        LoadStatus
	Trigger         Trigger
	ActorID         string
	ActorRole       Role
	OwnerID         string
	AssignedAgentID *string
	CreatedAt       time.Time

	PublishedAt     *time.Time
	PublishAttempts int32
	NextAttemptAt   time.Time
	LastError       *string
}

type CarbonCredit struct {
	LoadID       uuid.UUID
	UserID       string
	WasteType    string
	Quantity     float64
	OffsetKg     float64
	RewardPoints int64
	CreatedAt    time.Time
}

type RewardSummary struct {
	UserID        string
	Credits       int
	TotalOffsetKg float64
	TotalPoints   int64
}
