package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

const ledgerKindMonthlyCharge = "monthly_charge"

// MonthlyCharges implements issue_monthly_charges: one item per building,
// booking each apartment's monthly charge into the ledger.
type MonthlyCharges struct {
	store *Store
}

// NewMonthlyCharges creates the resolver/strategy pair.
func NewMonthlyCharges(store *Store) *MonthlyCharges {
	return &MonthlyCharges{store: store}
}

type chargesPayload struct {
	BuildingName string            `json:"building_name"`
	Apartments   []ApartmentCharge `json:"apartments"`
}

// Resolve computes one candidate per building in scope. Buildings without
// apartments are invalid; the apartment charge list is captured into the
// payload so execution books exactly what was previewed.
func (o *MonthlyCharges) Resolve(ctx context.Context, scope *domain.EntityRef, period string) ([]engine.Candidate, error) {
	buildingID, err := scopeBuildingID(scope)
	if err != nil {
		return nil, err
	}

	buildings, err := o.store.ListBuildingCharges(ctx, buildingID)
	if err != nil {
		return nil, err
	}

	candidates := make([]engine.Candidate, 0, len(buildings))
	for _, b := range buildings {
		cand := engine.Candidate{
			Entity:      domain.EntityRef{Kind: KindBuilding, ID: b.BuildingID},
			AmountCents: b.TotalChargeCents,
		}

		if b.ApartmentCount == 0 {
			cand.Invalid = append(cand.Invalid, "building has no apartments")
			cand.Payload = domain.JSONMap{"building_name": b.Name}
			candidates = append(candidates, cand)
			continue
		}
		if b.TotalChargeCents <= 0 {
			cand.Invalid = append(cand.Invalid, "total monthly charge must be positive")
		}

		apartments, err := o.store.ListApartmentCharges(ctx, b.BuildingID)
		if err != nil {
			return nil, err
		}

		cand.Payload = toPayload(chargesPayload{
			BuildingName: b.Name,
			Apartments:   apartments,
		})
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// Execute books one ledger transaction per apartment captured in the item
// payload. Replayed apartments (already booked for the period) are counted
// separately and not re-booked.
func (o *MonthlyCharges) Execute(ctx context.Context, job *domain.Job, item *domain.JobItem, period string) (domain.JSONMap, error) {
	var pl chargesPayload
	if err := fromPayload(item.Payload, &pl); err != nil {
		return nil, domain.NewExecutionError("invalid_payload", err)
	}
	if len(pl.Apartments) == 0 {
		return nil, domain.NewExecutionError("invalid_payload", fmt.Errorf("no apartments captured for building %s", item.EntityID))
	}

	var booked, replayed int
	var bookedCents int64
	for _, apt := range pl.Apartments {
		created, err := o.store.InsertLedgerTransaction(ctx,
			uuid.New().String(), apt.ApartmentID, item.EntityID, period,
			apt.AmountCents, ledgerKindMonthlyCharge, job.JobID)
		if err != nil {
			return nil, domain.NewExecutionError("ledger_write_failed", err)
		}
		if created {
			booked++
			bookedCents += apt.AmountCents
		} else {
			replayed++
		}
	}

	return domain.JSONMap{
		"transactions_created":  booked,
		"transactions_existing": replayed,
		"amount_cents":          bookedCents,
	}, nil
}

// toPayload converts a typed payload into the generic item payload blob.
func toPayload(v any) domain.JSONMap {
	data, err := json.Marshal(v)
	if err != nil {
		return domain.JSONMap{}
	}
	var m domain.JSONMap
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.JSONMap{}
	}
	return m
}

// fromPayload decodes the generic payload blob back into a typed struct.
// Round-tripping through JSON absorbs the number-type differences between a
// freshly built payload and one read back from jsonb.
func fromPayload(m domain.JSONMap, v any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode item payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode item payload: %w", err)
	}
	return nil
}
