// Package ops holds the concrete property-management operations behind the
// engine's resolver/strategy registry: monthly charges, management-fee
// incomes, dunning reminders and debt-report exports.
package ops

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
	"github.com/proptech-labs/bulkops-be/shared/postgresql"
)

// Entity kinds referenced by job items.
const (
	KindBuilding  = "building"
	KindApartment = "apartment"
)

// Store runs the domain queries and side-effect writes for all operation
// types. Side-effect inserts carry a uniqueness guard per (entity, period,
// kind) so a retried strategy never double-books.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store instance.
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// BuildingCharges aggregates one building's apartments for the monthly
// charge preview.
type BuildingCharges struct {
	BuildingID       string `db:"building_id"`
	Name             string `db:"name"`
	ApartmentCount   int    `db:"apartment_count"`
	TotalChargeCents int64  `db:"total_charge_cents"`
}

// ListBuildingCharges returns charge aggregates for all buildings, or for a
// single building when buildingID is non-empty.
func (s *Store) ListBuildingCharges(ctx context.Context, buildingID string) ([]BuildingCharges, error) {
	query := `
		SELECT b.building_id, b.name,
			COUNT(a.apartment_id) AS apartment_count,
			COALESCE(SUM(a.monthly_charge_cents), 0) AS total_charge_cents
		FROM buildings b
		LEFT JOIN apartments a ON a.building_id = b.building_id
	`
	args := []interface{}{}
	if buildingID != "" {
		query += ` WHERE b.building_id = $1`
		args = append(args, buildingID)
	}
	query += ` GROUP BY b.building_id, b.name ORDER BY b.building_id`

	var rows []BuildingCharges
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list building charges: %w", err)
	}
	return rows, nil
}

// ApartmentCharge is one apartment's monthly charge, captured into the item
// payload at dry-run time.
type ApartmentCharge struct {
	ApartmentID string `db:"apartment_id" json:"apartment_id"`
	AmountCents int64  `db:"monthly_charge_cents" json:"amount_cents"`
}

// ListApartmentCharges returns the apartments of a building with their
// monthly charge.
func (s *Store) ListApartmentCharges(ctx context.Context, buildingID string) ([]ApartmentCharge, error) {
	var rows []ApartmentCharge
	query := `
		SELECT apartment_id, monthly_charge_cents
		FROM apartments
		WHERE building_id = $1
		ORDER BY apartment_id
	`
	if err := s.db.SelectContext(ctx, &rows, query, buildingID); err != nil {
		return nil, fmt.Errorf("failed to list apartment charges: %w", err)
	}
	return rows, nil
}

// InsertLedgerTransaction books one charge. The (apartment, period, kind)
// uniqueness guard turns replays into no-ops; created reports whether the
// row was actually written.
func (s *Store) InsertLedgerTransaction(ctx context.Context, txID, apartmentID, buildingID, period string, amountCents int64, kind, jobID string) (bool, error) {
	query := `
		INSERT INTO ledger_transactions (transaction_id, apartment_id, building_id, period, amount_cents, kind, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (apartment_id, period, kind) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, txID, apartmentID, buildingID, period, amountCents, kind, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to insert ledger transaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// BuildingFee is one building's configured management fee.
type BuildingFee struct {
	BuildingID         string `db:"building_id"`
	Name               string `db:"name"`
	ManagementFeeCents int64  `db:"management_fee_cents"`
}

// ListBuildingFees returns fee configuration for all buildings, or one.
func (s *Store) ListBuildingFees(ctx context.Context, buildingID string) ([]BuildingFee, error) {
	query := `SELECT building_id, name, management_fee_cents FROM buildings`
	args := []interface{}{}
	if buildingID != "" {
		query += ` WHERE building_id = $1`
		args = append(args, buildingID)
	}
	query += ` ORDER BY building_id`

	var rows []BuildingFee
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list building fees: %w", err)
	}
	return rows, nil
}

// InsertIncome records one income row with the same replay guard as ledger
// transactions.
func (s *Store) InsertIncome(ctx context.Context, incomeID, buildingID, period string, amountCents int64, kind, jobID string) (bool, error) {
	query := `
		INSERT INTO incomes (income_id, building_id, period, amount_cents, kind, job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (building_id, period, kind) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, incomeID, buildingID, period, amountCents, kind, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to insert income: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// DelinquentApartment is an apartment whose debt meets its building's
// dunning policy threshold.
type DelinquentApartment struct {
	ApartmentID      string `db:"apartment_id"`
	BuildingID       string `db:"building_id"`
	DebtCents        int64  `db:"debt_cents"`
	MinDebtCents     int64  `db:"min_debt_cents"`
	NotificationKind string `db:"notification_kind"`
}

// ListDelinquentApartments joins apartments against the enabled dunning
// policies of their buildings. The policy table is read-mostly configuration
// owned by the collections domain.
func (s *Store) ListDelinquentApartments(ctx context.Context, buildingID string) ([]DelinquentApartment, error) {
	query := `
		SELECT a.apartment_id, a.building_id, a.debt_cents,
			p.min_debt_cents, p.notification_kind
		FROM apartments a
		JOIN dunning_policies p ON p.building_id = a.building_id AND p.enabled
		WHERE a.debt_cents >= p.min_debt_cents
	`
	args := []interface{}{}
	if buildingID != "" {
		query += ` AND a.building_id = $1`
		args = append(args, buildingID)
	}
	query += ` ORDER BY a.apartment_id`

	var rows []DelinquentApartment
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list delinquent apartments: %w", err)
	}
	return rows, nil
}

// InsertNotification records a dunning notification. Deliberately no replay
// guard: the provider contract tolerates duplicate sends and dedupes on its
// side.
func (s *Store) InsertNotification(ctx context.Context, notificationID, apartmentID, buildingID, kind string, debtCents int64, period, jobID string) error {
	query := `
		INSERT INTO notifications (notification_id, apartment_id, building_id, kind, debt_cents, period, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.ExecContext(ctx, query, notificationID, apartmentID, buildingID, kind, debtCents, period, jobID); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// BuildingDebt aggregates one building's outstanding debt for the report
// export.
type BuildingDebt struct {
	BuildingID       string `db:"building_id"`
	Name             string `db:"name"`
	ApartmentCount   int    `db:"apartment_count"`
	DelinquentCount  int    `db:"delinquent_count"`
	TotalDebtCents   int64  `db:"total_debt_cents"`
}

// ListBuildingDebts returns debt aggregates for all buildings, or one.
func (s *Store) ListBuildingDebts(ctx context.Context, buildingID string) ([]BuildingDebt, error) {
	query := `
		SELECT b.building_id, b.name,
			COUNT(a.apartment_id) AS apartment_count,
			COUNT(a.apartment_id) FILTER (WHERE a.debt_cents > 0) AS delinquent_count,
			COALESCE(SUM(a.debt_cents), 0) AS total_debt_cents
		FROM buildings b
		LEFT JOIN apartments a ON a.building_id = b.building_id
	`
	args := []interface{}{}
	if buildingID != "" {
		query += ` WHERE b.building_id = $1`
		args = append(args, buildingID)
	}
	query += ` GROUP BY b.building_id, b.name ORDER BY b.building_id`

	var rows []BuildingDebt
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list building debts: %w", err)
	}
	return rows, nil
}

// InsertDebtReport stores one building's report payload.
func (s *Store) InsertDebtReport(ctx context.Context, reportID, buildingID, period string, payload domain.JSONMap, jobID string) error {
	query := `
		INSERT INTO debt_reports (report_id, building_id, period, payload, job_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, reportID, buildingID, period, payload, jobID); err != nil {
		return fmt.Errorf("failed to insert debt report: %w", err)
	}
	return nil
}
