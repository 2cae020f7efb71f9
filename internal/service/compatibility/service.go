package compatibility

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

type ruleRepo interface {
	ListRulesForRecipient(ctx context.Context, toBloodTypeID, componentID int) ([]domain.CompatibilityRule, error)
}

// Service loads the rule rows for a recipient and resolves them.
type Service struct {
	rules ruleRepo
	order domain.PriorityOrder
	log   *slog.Logger
}

// NewService creates a compatibility Service.
func NewService(log *slog.Logger, rules ruleRepo, order domain.PriorityOrder) *Service {
	if !order.IsValid() {
		order = domain.PriorityOrderAsc
	}
	return &Service{
		rules: rules,
		order: order,
		log:   log.With("service", "compatibility"),
	}
}

// Order returns the configured priority direction.
func (s *Service) Order() domain.PriorityOrder { return s.order }

// Resolve returns the ordered supplier set for (recipient, component).
// An empty set is a valid outcome meaning the request cannot be fulfilled.
func (s *Service) Resolve(ctx context.Context, recipientBloodTypeID, componentID int) (Set, error) {
	rules, err := s.rules.ListRulesForRecipient(ctx, recipientBloodTypeID, componentID)
	if err != nil {
		return nil, fmt.Errorf("list compatibility rules: %w", err)
	}

	set := Resolve(rules, recipientBloodTypeID, componentID, s.order)
	if len(set) == 0 {
		s.log.WarnContext(ctx, "no compatible blood types",
			slog.Int("recipient_blood_type_id", recipientBloodTypeID),
			slog.Int("component_id", componentID),
		)
	}
	return set, nil
}
