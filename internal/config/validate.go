package config

import (
	"fmt"
	"strings"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}

	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must be >= 0 (got %d)", c.Server.RateLimitPerMinute)
	}

	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) must not exceed max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if err := c.Matching.validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}

	if c.Inventory.ReservationHold < 0 {
		return fmt.Errorf("inventory.reservation_hold must be >= 0 (got %s)", c.Inventory.ReservationHold)
	}

	if c.Request.MaxQuantity <= 0 {
		return fmt.Errorf("request.max_quantity must be > 0 (got %d)", c.Request.MaxQuantity)
	}

	if err := c.SLA.validate(); err != nil {
		return fmt.Errorf("sla: %w", err)
	}

	if err := c.Routing.validate(); err != nil {
		return fmt.Errorf("routing: %w", err)
	}

	if err := c.Notify.validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be > 0 when enabled (got %s)", c.Sweeper.Interval)
	}

	return nil
}

func (m *MatchingConfig) validate() error {
	if m.DefaultRadiusKm <= 0 {
		return fmt.Errorf("default_radius_km must be > 0 (got %v)", m.DefaultRadiusKm)
	}
	if m.MaxRadiusKm < m.DefaultRadiusKm {
		return fmt.Errorf("max_radius_km (%v) must be >= default_radius_km (%v)", m.MaxRadiusKm, m.DefaultRadiusKm)
	}
	if m.MatchHold <= 0 {
		return fmt.Errorf("match_hold must be > 0 (got %s)", m.MatchHold)
	}
	if m.LookupConcurrency <= 0 {
		return fmt.Errorf("lookup_concurrency must be > 0 (got %d)", m.LookupConcurrency)
	}

	order, err := ParsePriorityOrder(m.PriorityOrderRaw)
	if err != nil {
		return fmt.Errorf("priority_order: %w", err)
	}
	m.PriorityOrder = order

	return nil
}

func (s SLAConfig) validate() error {
	for _, c := range s.Configs() {
		if c.TargetMinutes <= 0 {
			return fmt.Errorf("%s target must be > 0 (got %d)", strings.ToLower(c.Urgency.String()), c.TargetMinutes)
		}
		if c.AlertBeforeMinutes < 0 || c.AlertBeforeMinutes >= c.TargetMinutes {
			return fmt.Errorf("%s alert must be in [0, target) (got %d)", strings.ToLower(c.Urgency.String()), c.AlertBeforeMinutes)
		}
	}
	return nil
}

func (r RoutingConfig) validate() error {
	switch r.Provider {
	case "haversine":
		return nil
	case "osrm":
		if r.Timeout <= 0 {
			return fmt.Errorf("timeout must be > 0 (got %s)", r.Timeout)
		}
		return nil
	default:
		return fmt.Errorf("unknown provider %q (want haversine or osrm)", r.Provider)
	}
}

func (n NotifyConfig) validate() error {
	switch n.Kind {
	case "log":
		return nil
	case "kafka":
		if len(n.Brokers()) == 0 {
			return fmt.Errorf("brokers are required for kafka")
		}
		if n.Topic == "" {
			return fmt.Errorf("topic is required for kafka")
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q (want log or kafka)", n.Kind)
	}
}

// ParsePriorityOrder parses "asc" or "desc" (case-insensitive). An empty
// string means asc.
func ParsePriorityOrder(raw string) (domain.PriorityOrder, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return domain.PriorityOrderAsc, nil
	}
	order := domain.PriorityOrder(raw)
	if !order.IsValid() {
		return "", fmt.Errorf("invalid order %q", raw)
	}
	return order, nil
}
