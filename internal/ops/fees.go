package ops

import (
	"context"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

const incomeKindManagementFee = "management_fee"

// ManagementFeeIncomes implements create_management_fee_incomes: one income
// row per building with a configured management fee.
type ManagementFeeIncomes struct {
	store *Store
}

// NewManagementFeeIncomes creates the resolver/strategy pair.
func NewManagementFeeIncomes(store *Store) *ManagementFeeIncomes {
	return &ManagementFeeIncomes{store: store}
}

// Resolve emits one candidate per building in scope; buildings without a
// positive configured fee are invalid.
func (o *ManagementFeeIncomes) Resolve(ctx context.Context, scope *domain.EntityRef, period string) ([]engine.Candidate, error) {
	buildingID, err := scopeBuildingID(scope)
	if err != nil {
		return nil, err
	}

	buildings, err := o.store.ListBuildingFees(ctx, buildingID)
	if err != nil {
		return nil, err
	}

	candidates := make([]engine.Candidate, 0, len(buildings))
	for _, b := range buildings {
		cand := engine.Candidate{
			Entity:      domain.EntityRef{Kind: KindBuilding, ID: b.BuildingID},
			AmountCents: b.ManagementFeeCents,
			Payload: domain.JSONMap{
				"building_name": b.Name,
				"fee_cents":     b.ManagementFeeCents,
			},
		}
		if b.ManagementFeeCents <= 0 {
			cand.Invalid = append(cand.Invalid, "building has no configured management fee")
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// Execute creates the income record for one building.
func (o *ManagementFeeIncomes) Execute(ctx context.Context, job *domain.Job, item *domain.JobItem, period string) (domain.JSONMap, error) {
	incomeID := uuid.New().String()
	created, err := o.store.InsertIncome(ctx, incomeID, item.EntityID, period,
		item.AmountCents, incomeKindManagementFee, job.JobID)
	if err != nil {
		return nil, domain.NewExecutionError("income_write_failed", err)
	}

	return domain.JSONMap{
		"income_id":    incomeID,
		"created":      created,
		"amount_cents": item.AmountCents,
	}, nil
}
