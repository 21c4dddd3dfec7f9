package model

import "time"

type PanelType string

const (
	PanelTypeMarzban    PanelType = "marzban"
	PanelTypeMarzneshin PanelType = "marzneshin"
)

type PanelHealth string

const (
	PanelHealthOnline  PanelHealth = "online"
	PanelHealthOffline PanelHealth = "offline"
	PanelHealthUnknown PanelHealth = "unknown"
)

// PanelServer is a Marzban/Marzneshin instance's connection info.
// Consumed, not owned, by the order workflow.
type PanelServer struct {
	ID            string // UUID
	Name          string
	Type          PanelType
	URL           string
	AdminUsername string
	AdminPassword string
	IsActive      bool
	HealthStatus  PanelHealth
	// Marzban only: copy this user's proxies/inbounds onto new users.
	TemplateUsername *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
