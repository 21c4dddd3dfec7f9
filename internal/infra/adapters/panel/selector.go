// File: internal/infra/adapters/panel/selector.go
package panel

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

// Selector picks a panel server and the matching client for a provisioning
// request.
//
// Policy: an explicit panel id must be used exactly; a missing or inactive
// panel is then a hard error, never a silent fallback. Without an explicit
// id, an online panel of the requested type is preferred, falling back to any
// active panel of that type with a warning.
type Selector struct {
	panels  repository.PanelRepository
	clients map[model.PanelType]adapter.PanelClient
	log     *zerolog.Logger
}

func NewSelector(panels repository.PanelRepository, clients []adapter.PanelClient, logger *zerolog.Logger) *Selector {
	m := make(map[model.PanelType]adapter.PanelClient, len(clients))
	for _, c := range clients {
		m[c.Type()] = c
	}
	return &Selector{panels: panels, clients: m, log: logger}
}

// Resolve returns the panel to provision on and its client. panelID may be
// empty; panelType is the fallback selector when it is.
func (s *Selector) Resolve(ctx context.Context, panelID string, panelType model.PanelType) (*model.PanelServer, adapter.PanelClient, error) {
	if panelID != "" {
		p, err := s.panels.FindByID(ctx, nil, panelID)
		if err != nil {
			return nil, nil, fmt.Errorf("panel %s: %w", panelID, domain.ErrNotFound)
		}
		if !p.IsActive {
			return nil, nil, fmt.Errorf("panel %s is inactive: %w", panelID, domain.ErrNoPanelAvailable)
		}
		client, ok := s.clients[p.Type]
		if !ok {
			return nil, nil, fmt.Errorf("no client for panel type %s: %w", p.Type, domain.ErrConfiguration)
		}
		return p, client, nil
	}

	candidates, err := s.panels.ListByType(ctx, nil, panelType)
	if err != nil {
		return nil, nil, err
	}
	var fallback *model.PanelServer
	for _, p := range candidates {
		if !p.IsActive {
			continue
		}
		if p.HealthStatus == model.PanelHealthOnline {
			client, ok := s.clients[p.Type]
			if !ok {
				return nil, nil, fmt.Errorf("no client for panel type %s: %w", p.Type, domain.ErrConfiguration)
			}
			return p, client, nil
		}
		if fallback == nil {
			fallback = p
		}
	}
	if fallback != nil {
		s.log.Warn().Str("panel", fallback.Name).Str("health", string(fallback.HealthStatus)).Msg("no online panel, falling back to active panel with unknown health")
		client, ok := s.clients[fallback.Type]
		if !ok {
			return nil, nil, fmt.Errorf("no client for panel type %s: %w", fallback.Type, domain.ErrConfiguration)
		}
		return fallback, client, nil
	}
	return nil, nil, fmt.Errorf("panel type %s: %w", panelType, domain.ErrNoPanelAvailable)
}
