package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heartmarshall/bloodlink-backend/internal/app/seeder/dataset"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// allPhases defines the canonical execution order. Rules resolve codes
// against what the catalog phase stored.
var allPhases = []string{"catalog", "rules", "sla"}

// PhaseResult holds the outcome of a single pipeline phase.
type PhaseResult struct {
	Upserted int
	Skipped  int
	Duration time.Duration
	Err      error
}

// Pipeline orchestrates the seeding phases.
type Pipeline struct {
	log     *slog.Logger
	repo    ReferenceRepo
	cfg     Config
	sla     []domain.SLAConfig
	results map[string]PhaseResult
}

// NewPipeline creates a new Pipeline. sla holds the per-urgency targets
// written by the sla phase.
func NewPipeline(log *slog.Logger, repo ReferenceRepo, cfg Config, sla []domain.SLAConfig) *Pipeline {
	return &Pipeline{
		log:     log,
		repo:    repo,
		cfg:     cfg,
		sla:     sla,
		results: make(map[string]PhaseResult),
	}
}

// Results returns phase results after Run completes.
func (p *Pipeline) Results() map[string]PhaseResult {
	return p.results
}

// HasErrors returns true if any phase failed.
func (p *Pipeline) HasErrors() bool {
	for _, r := range p.results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// Run executes the pipeline. If phases is non-empty, only the listed phases
// run. A failing phase does not stop the following ones.
func (p *Pipeline) Run(ctx context.Context, phases []string) error {
	toRun, err := selectPhases(phases)
	if err != nil {
		return err
	}

	var file *dataset.File
	if needsDataset(toRun) {
		file, err = dataset.Parse(p.cfg.DatasetPath)
		if err != nil {
			return err
		}
	}

	for _, phase := range toRun {
		start := time.Now()
		p.log.Info("starting phase", slog.String("phase", phase))

		var result PhaseResult
		switch phase {
		case "catalog":
			result = p.runCatalog(ctx, file)
		case "rules":
			result = p.runRules(ctx, file)
		case "sla":
			result = p.runSLA(ctx)
		}
		result.Duration = time.Since(start)
		p.results[phase] = result

		if result.Err != nil {
			p.log.Warn("phase failed",
				slog.String("phase", phase),
				slog.String("error", result.Err.Error()),
				slog.Duration("duration", result.Duration),
			)
		} else {
			p.log.Info("phase completed",
				slog.String("phase", phase),
				slog.Int("upserted", result.Upserted),
				slog.Int("skipped", result.Skipped),
				slog.Bool("dry_run", p.cfg.DryRun),
				slog.Duration("duration", result.Duration),
			)
		}
	}

	p.log.Info("pipeline completed", slog.Int("phases_run", len(toRun)))
	return nil
}

func selectPhases(phases []string) ([]string, error) {
	if len(phases) == 0 {
		return allPhases, nil
	}
	filter := make(map[string]bool, len(phases))
	for _, ph := range phases {
		known := false
		for _, a := range allPhases {
			known = known || a == ph
		}
		if !known {
			return nil, fmt.Errorf("unknown phase %q", ph)
		}
		filter[ph] = true
	}
	var out []string
	for _, ph := range allPhases {
		if filter[ph] {
			out = append(out, ph)
		}
	}
	return out, nil
}

func needsDataset(phases []string) bool {
	for _, ph := range phases {
		if ph == "catalog" || ph == "rules" {
			return true
		}
	}
	return false
}

// runCatalog upserts blood types, components and health conditions.
func (p *Pipeline) runCatalog(ctx context.Context, file *dataset.File) PhaseResult {
	bloodTypes := file.BloodTypes()
	components := file.ComponentList()
	conditions := file.ConditionList()
	total := len(bloodTypes) + len(components) + len(conditions)
	if p.cfg.DryRun {
		return PhaseResult{Skipped: total}
	}

	var res PhaseResult
	for _, bt := range bloodTypes {
		if err := p.repo.UpsertBloodType(ctx, bt); err != nil {
			res.Err = fmt.Errorf("upsert blood type %s: %w", bt.Code(), err)
			return res
		}
		res.Upserted++
	}
	for _, c := range components {
		if err := p.repo.UpsertComponent(ctx, c); err != nil {
			res.Err = fmt.Errorf("upsert component %s: %w", c.Code, err)
			return res
		}
		res.Upserted++
	}
	for _, c := range conditions {
		if err := p.repo.UpsertHealthCondition(ctx, c); err != nil {
			res.Err = fmt.Errorf("upsert condition %s: %w", c.Code, err)
			return res
		}
		res.Upserted++
	}
	return res
}

// runRules replaces the compatibility table. An empty rule list is skipped
// so a catalog-only dataset never wipes the table.
func (p *Pipeline) runRules(ctx context.Context, file *dataset.File) PhaseResult {
	if len(file.Rules) == 0 {
		return PhaseResult{Err: fmt.Errorf("dataset has no rules")}
	}

	bloodTypes, err := p.repo.ListBloodTypes(ctx)
	if err != nil {
		return PhaseResult{Err: fmt.Errorf("list blood types: %w", err)}
	}
	components, err := p.repo.ListComponents(ctx)
	if err != nil {
		return PhaseResult{Err: fmt.Errorf("list components: %w", err)}
	}
	if p.cfg.DryRun {
		// The catalog phase did not write, so resolve against the dataset too.
		bloodTypes = append(bloodTypes, file.BloodTypes()...)
		components = append(components, file.ComponentList()...)
	}

	rules, err := file.ResolveRules(bloodTypes, components)
	if err != nil {
		return PhaseResult{Err: err}
	}
	if p.cfg.DryRun {
		return PhaseResult{Skipped: len(rules)}
	}
	if err := p.repo.ReplaceRules(ctx, rules); err != nil {
		return PhaseResult{Err: fmt.Errorf("replace rules: %w", err)}
	}
	return PhaseResult{Upserted: len(rules)}
}

// runSLA writes the configured SLA targets.
func (p *Pipeline) runSLA(ctx context.Context) PhaseResult {
	if p.cfg.DryRun {
		return PhaseResult{Skipped: len(p.sla)}
	}
	var res PhaseResult
	for _, cfg := range p.sla {
		if err := p.repo.UpsertSLAConfig(ctx, cfg); err != nil {
			res.Err = fmt.Errorf("upsert sla %s: %w", cfg.Urgency, err)
			return res
		}
		res.Upserted++
	}
	return res
}
