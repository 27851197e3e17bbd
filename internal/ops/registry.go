package ops

import (
	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// NewRegistry builds the engine registry with all supported operation types.
func NewRegistry(store *Store) *engine.Registry {
	reg := engine.NewRegistry()

	charges := NewMonthlyCharges(store)
	reg.Register(domain.OpIssueMonthlyCharges, charges, charges)

	fees := NewManagementFeeIncomes(store)
	reg.Register(domain.OpCreateManagementFeeIncomes, fees, fees)

	reminders := NewPaymentReminders(store)
	reg.Register(domain.OpSendPaymentReminders, reminders, reminders)

	export := NewDebtReportExport(store)
	reg.Register(domain.OpExportDebtReport, export, export)

	return reg
}

// scopeBuildingID maps a job scope to a building filter. All current
// operations scope by building; a nil scope means the full tenant-wide set.
func scopeBuildingID(scope *domain.EntityRef) (string, error) {
	if scope == nil {
		return "", nil
	}
	if scope.Kind != KindBuilding {
		return "", domain.NewValidationError("unsupported scope kind %q", scope.Kind)
	}
	return scope.ID, nil
}
