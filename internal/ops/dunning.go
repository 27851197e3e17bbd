package ops

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// PaymentReminders implements send_payment_reminders: one item per
// delinquent apartment, selected by its building's dunning policy. The
// notification write may be replayed on retry; the provider dedupes.
type PaymentReminders struct {
	store *Store
}

// NewPaymentReminders creates the resolver/strategy pair.
func NewPaymentReminders(store *Store) *PaymentReminders {
	return &PaymentReminders{store: store}
}

type reminderPayload struct {
	BuildingID       string `json:"building_id"`
	DebtCents        int64  `json:"debt_cents"`
	NotificationKind string `json:"notification_kind"`
}

// Resolve selects apartments whose debt meets their building's enabled
// dunning policy threshold. Apartments under the threshold never appear as
// candidates; the policy table drives the cut, not item validation.
func (o *PaymentReminders) Resolve(ctx context.Context, scope *domain.EntityRef, period string) ([]engine.Candidate, error) {
	buildingID, err := scopeBuildingID(scope)
	if err != nil {
		return nil, err
	}

	apartments, err := o.store.ListDelinquentApartments(ctx, buildingID)
	if err != nil {
		return nil, err
	}

	candidates := make([]engine.Candidate, 0, len(apartments))
	for _, apt := range apartments {
		cand := engine.Candidate{
			Entity:      domain.EntityRef{Kind: KindApartment, ID: apt.ApartmentID},
			AmountCents: apt.DebtCents,
			Payload: toPayload(reminderPayload{
				BuildingID:       apt.BuildingID,
				DebtCents:        apt.DebtCents,
				NotificationKind: apt.NotificationKind,
			}),
		}
		if apt.DebtCents <= 0 {
			cand.Invalid = append(cand.Invalid, "apartment has no outstanding debt")
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// Execute records the reminder notification for one apartment.
func (o *PaymentReminders) Execute(ctx context.Context, job *domain.Job, item *domain.JobItem, period string) (domain.JSONMap, error) {
	var pl reminderPayload
	if err := fromPayload(item.Payload, &pl); err != nil {
		return nil, domain.NewExecutionError("invalid_payload", err)
	}
	if pl.BuildingID == "" {
		return nil, domain.NewExecutionError("invalid_payload", fmt.Errorf("no building captured for apartment %s", item.EntityID))
	}

	notificationID := uuid.New().String()
	if err := o.store.InsertNotification(ctx, notificationID, item.EntityID,
		pl.BuildingID, pl.NotificationKind, pl.DebtCents, period, job.JobID); err != nil {
		return nil, domain.NewExecutionError("notification_write_failed", err)
	}

	return domain.JSONMap{
		"notification_id": notificationID,
		"kind":            pl.NotificationKind,
		"debt_cents":      pl.DebtCents,
	}, nil
}
