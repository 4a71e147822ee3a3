// Package report builds the end-of-day compliance summary for all tracked
// warehouses.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
	"FiveSBot/internal/ledger"
)

// EntitySource exposes the current registry snapshot.
type EntitySource interface {
	Entities() []domain.Entity
}

// Config fixes the report's day computation and quota.
type Config struct {
	Cutoff   busday.Cutoff
	Location *time.Location
	Required int
}

// Generator assembles the three report sections from the ledger and the
// registry. It never delivers anything itself.
type Generator struct {
	cfg      Config
	ledger   *ledger.Ledger
	entities EntitySource
	logger   *slog.Logger

	// One generation per business day at a time; a concurrent second
	// trigger for the same day joins the in-flight run instead of racing it.
	group singleflight.Group
}

// NewGenerator wires the generator's dependencies.
func NewGenerator(cfg Config, l *ledger.Ledger, entities EntitySource, logger *slog.Logger) *Generator {
	return &Generator{cfg: cfg, ledger: l, entities: entities, logger: logger}
}

// Generate produces the report covering the business day the given instant
// falls into. Every section is always present; empty means "none" and the
// renderer is expected to say so explicitly.
func (g *Generator) Generate(ctx context.Context, now time.Time) (domain.Report, error) {
	day := busday.ForReport(now, g.cfg.Cutoff, g.cfg.Location)

	result, err, _ := g.group.Do(day.String(), func() (interface{}, error) {
		return g.build(day), nil
	})
	if err != nil {
		return domain.Report{}, fmt.Errorf("generate report for %s: %w", day, err)
	}
	return result.(domain.Report), nil
}

func (g *Generator) build(day busday.Day) domain.Report {
	view := g.ledger.View(day)
	entities := g.entities.Entities()

	names := make(map[string]string, len(entities))
	for _, e := range entities {
		names[e.ID] = e.DisplayName
	}

	rep := domain.Report{
		Day:          day,
		NotSubmitted: []domain.ReportLine{},
		StaleReuse:   []domain.ReportLine{},
		UnderQuota:   []domain.ReportLine{},
	}

	sorted := append([]domain.Entity(nil), entities...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, e := range sorted {
		count := view.Counts[e.ID]
		switch {
		case count == 0:
			rep.NotSubmitted = append(rep.NotSubmitted, domain.ReportLine{
				EntityID:    e.ID,
				DisplayName: e.DisplayName,
			})
		case count < g.cfg.Required:
			rep.UnderQuota = append(rep.UnderQuota, domain.ReportLine{
				EntityID:    e.ID,
				DisplayName: e.DisplayName,
				Count:       count,
				Required:    g.cfg.Required,
			})
		}
	}

	// One stale line per entity, keeping the earliest original day.
	earliest := map[string]busday.Day{}
	for _, use := range view.StaleUses {
		if cur, ok := earliest[use.EntityID]; !ok || use.OriginalDay.Before(cur) {
			earliest[use.EntityID] = use.OriginalDay
		}
	}
	staleIDs := make([]string, 0, len(earliest))
	for id := range earliest {
		staleIDs = append(staleIDs, id)
	}
	sort.Strings(staleIDs)
	for _, id := range staleIDs {
		rep.StaleReuse = append(rep.StaleReuse, domain.ReportLine{
			EntityID:    id,
			DisplayName: names[id],
			OriginalDay: earliest[id],
		})
	}

	if g.logger != nil {
		g.logger.Info("report built",
			"day", day.String(),
			"not_submitted", len(rep.NotSubmitted),
			"stale_reuse", len(rep.StaleReuse),
			"under_quota", len(rep.UnderQuota))
	}
	return rep
}
