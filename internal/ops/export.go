package ops

import (
	"context"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// DebtReportExport implements export_debt_report: one report row per
// building with its aggregated outstanding debt.
type DebtReportExport struct {
	store *Store
}

// NewDebtReportExport creates the resolver/strategy pair.
func NewDebtReportExport(store *Store) *DebtReportExport {
	return &DebtReportExport{store: store}
}

// Resolve emits one candidate per building in scope with its aggregated
// debt. Buildings without apartments are invalid; debt-free buildings are
// still exported (an empty report is a valid report).
func (o *DebtReportExport) Resolve(ctx context.Context, scope *domain.EntityRef, period string) ([]engine.Candidate, error) {
	buildingID, err := scopeBuildingID(scope)
	if err != nil {
		return nil, err
	}

	buildings, err := o.store.ListBuildingDebts(ctx, buildingID)
	if err != nil {
		return nil, err
	}

	candidates := make([]engine.Candidate, 0, len(buildings))
	for _, b := range buildings {
		cand := engine.Candidate{
			Entity:      domain.EntityRef{Kind: KindBuilding, ID: b.BuildingID},
			AmountCents: b.TotalDebtCents,
			Payload: domain.JSONMap{
				"building_name":    b.Name,
				"apartment_count":  b.ApartmentCount,
				"delinquent_count": b.DelinquentCount,
				"total_debt_cents": b.TotalDebtCents,
			},
		}
		if b.ApartmentCount == 0 {
			cand.Invalid = append(cand.Invalid, "building has no apartments")
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// Execute writes the report row for one building, snapshotting the payload
// captured at dry-run time.
func (o *DebtReportExport) Execute(ctx context.Context, job *domain.Job, item *domain.JobItem, period string) (domain.JSONMap, error) {
	reportID := uuid.New().String()
	if err := o.store.InsertDebtReport(ctx, reportID, item.EntityID, period, item.Payload, job.JobID); err != nil {
		return nil, domain.NewExecutionError("report_write_failed", err)
	}

	return domain.JSONMap{
		"report_id":        reportID,
		"total_debt_cents": item.AmountCents,
	}, nil
}
