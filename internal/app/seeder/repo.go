// Package seeder loads reference data (blood types, components, health
// conditions, compatibility rules and SLA targets) into the database.
package seeder

import (
	"context"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// ReferenceRepo is the write contract consumed by the pipeline.
// Implemented by the postgres and memory reference repositories.
type ReferenceRepo interface {
	UpsertBloodType(ctx context.Context, bt domain.BloodType) error
	UpsertComponent(ctx context.Context, c domain.Component) error
	UpsertHealthCondition(ctx context.Context, c domain.HealthCondition) error
	ListBloodTypes(ctx context.Context) ([]domain.BloodType, error)
	ListComponents(ctx context.Context) ([]domain.Component, error)
	// ReplaceRules swaps the whole compatibility table atomically.
	ReplaceRules(ctx context.Context, rules []domain.CompatibilityRule) error
	UpsertSLAConfig(ctx context.Context, cfg domain.SLAConfig) error
}
