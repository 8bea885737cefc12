package models

import "time"

const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
	RoleStaff     = "staff"
	RoleAdmin     = "admin"
)

// Principal is the read model of an identity owned elsewhere. The core
// only writes BookingsUsed, Rating and ReviewCount.
type Principal struct {
	ID           string      `json:"id"`
	Role         string      `json:"role"`
	FullName     string      `json:"full_name"`
	Approved     bool        `json:"approved"`
	Active       bool        `json:"active"`
	Location     *Point      `json:"location,omitempty"`
	Rating       float64     `json:"rating"`
	ReviewCount  int         `json:"review_count"`
	BookingsUsed int         `json:"bookings_used"`
	Entitlement  Entitlement `json:"entitlement"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (p *Principal) IsStaff() bool {
	return p.Role == RoleStaff || p.Role == RoleAdmin
}

func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Entitlement is the feature map supplied by the subscription collaborator.
type Entitlement struct {
	Active              bool    `json:"active"`
	PriorityService     bool    `json:"priority_service"`
	EmergencyAssistance bool    `json:"emergency_assistance"`
	FreeTowingQuota     int     `json:"free_towing_quota"`
	DiscountPercent     float64 `json:"discount_percent"`
}

// ApprovedActiveProviders is the dispatch predicate for the matcher.
func ApprovedActiveProviders(p *Principal) bool {
	return p.Role == RoleProvider && p.Approved && p.Active
}
