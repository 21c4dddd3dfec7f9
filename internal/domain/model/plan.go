package model

import "time"

// SubscriptionPlan is a sellable plan. Read-only with respect to the
// order workflow; managed from the admin API.
type SubscriptionPlan struct {
	ID           string // UUID
	Name         string
	Description  string
	DataLimitGB  int
	DurationDays int
	PriceToman   int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PlanPanelMapping joins a plan to a panel server, marking which panel is
// primary for provisioning and which protocol inbounds to use on it.
type PlanPanelMapping struct {
	ID         string
	PlanID     string
	PanelID    string
	IsPrimary  bool
	InboundIDs []int
}

// PlanWithPanels is a plan plus its panel mappings, as read for checkout.
type PlanWithPanels struct {
	Plan     SubscriptionPlan
	Mappings []PlanPanelMapping
}

// PrimaryPanelID returns the primary mapping's panel id, or the first
// mapping when none is marked primary, or "" when the plan has no panels.
func (p *PlanWithPanels) PrimaryPanelID() string {
	for _, m := range p.Mappings {
		if m.IsPrimary {
			return m.PanelID
		}
	}
	if len(p.Mappings) > 0 {
		return p.Mappings[0].PanelID
	}
	return ""
}
