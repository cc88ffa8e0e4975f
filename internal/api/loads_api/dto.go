package loads_api

import (
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
)

type coordinateDTO struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type createLoadRequest struct {
	WasteType   string         `json:"wasteType"`
	Quantity    float64        `json:"quantity"`
	Coordinates *coordinateDTO `json:"coordinates,omitempty"`
	Title       string         `json:"title,omitempty"`
	Address     string         `json:"address,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	PricePerTon *float64       `json:"pricePerTon,omitempty"`
}

func (r createLoadRequest) toInput() models.LoadCreateInput {
	in := models.LoadCreateInput{
		WasteType:   r.WasteType,
		Quantity:    r.Quantity,
		Title:       r.Title,
		Address:     r.Address,
		Notes:       r.Notes,
		PricePerTon: r.PricePerTon,
	}
	if r.Coordinates != nil {
		in.Coordinates = &models.Coordinate{Lat: r.Coordinates.Lat, Lon: r.Coordinates.Lon}
	}
	return in
}

type loadDTO struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"ownerId"`
	AssignedAgentID  *string          `json:"assignedAgentId,omitempty"`
	WasteType        string           `json:"wasteType"`
	Quantity         float64          `json:"quantity"`
	Coordinates      *coordinateDTO   `json:"coordinates,omitempty"`
	Status           string           `json:"status"`
	Title            string           `json:"title,omitempty"`
	Address          string           `json:"address,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	PricePerTon      *float64         `json:"pricePerTon,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	TerminalAt       *time.Time       `json:"terminalAt,omitempty"`
	AvailableActions []models.Trigger `json:"availableActions,omitempty"`
}

func toLoadDTO(l *models.Load) loadDTO {
	out := loadDTO{
		ID:              l.ID.String(),
		OwnerID:         l.OwnerID,
		AssignedAgentID: l.AssignedAgentID,
		WasteType:       l.WasteType,
		Quantity:        l.Quantity,
		Status:          string(l.Status),
		Title:           l.Title,
		Address:         l.Address,
		Notes:           l.Notes,
		PricePerTon:     l.PricePerTon,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
		TerminalAt:      l.TerminalAt,
	}
	if l.Coordinates != nil {
		out.Coordinates = &coordinateDTO{Lat: l.Coordinates.Lat, Lon: l.Coordinates.Lon}
	}
	return out
}

func toLoadDTOs(ls []*models.Load) []loadDTO {
	out := make([]loadDTO, 0, len(ls))
	for _, l := range ls {
		out = append(out, toLoadDTO(l))
	}
	return out
}

type nearbyDTO struct {
	Load       loadDTO `json:"load"`
	DistanceKm float64 `json:"distanceKm"`
}

type eventDTO struct {
	ID              uint64    `json:"id"`
	LoadID          string    `json:"loadId"`
	FromStatus      string    `json:"fromStatus"`
	ToStatus        string    `json:"toStatus"`
	Trigger         string    `json:"trigger"`
	ActorID         string    `json:"actorId"`
	ActorRole       string    `json:"actorRole"`
	AssignedAgentID *string   `json:"assignedAgentId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	Published       bool      `json:"published"`
}

func toEventDTO(e *models.LoadEvent) eventDTO {
	return eventDTO{
		ID:              e.ID,
		LoadID:          e.LoadID.String(),
		FromStatus:      string(e.FromStatus),
		ToStatus:        string(e.ToStatus),
		Trigger:         string(e.Trigger),
		ActorID:         e.ActorID,
		ActorRole:       string(e.ActorRole),
		AssignedAgentID: e.AssignedAgentID,
		CreatedAt:       e.CreatedAt,
		Published:       e.PublishedAt != nil,
	}
}

type creditDTO struct {
	LoadID       string    `json:"loadId"`
	UserID       string    `json:"userId"`
	WasteType    string    `json:"wasteType"`
	Quantity     float64   `json:"quantity"`
	OffsetKg     float64   `json:"offsetKg"`
	RewardPoints int64     `json:"rewardPoints"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toCreditDTO(c *models.CarbonCredit) *creditDTO {
	if c == nil {
		return nil
	}
	return &creditDTO{
		LoadID:       c.LoadID.String(),
		UserID:       c.UserID,
		WasteType:    c.WasteType,
		Quantity:     c.Quantity,
		OffsetKg:     c.OffsetKg,
		RewardPoints: c.RewardPoints,
		CreatedAt:    c.CreatedAt,
	}
}

type transitionResponse struct {
	Load   loadDTO    `json:"load"`
	Event  eventDTO   `json:"event"`
	Credit *creditDTO `json:"credit,omitempty"`
}

type rewardsDTO struct {
	UserID        string  `json:"userId"`
	Credits       int     `json:"credits"`
	TotalOffsetKg float64 `json:"totalOffsetKg"`
	TotalPoints   int64   `json:"totalPoints"`
}

type errorBody struct {
	Error errorDTO `json:"error"`
}

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
