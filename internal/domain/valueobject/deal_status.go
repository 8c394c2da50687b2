package valueobject

import "github.com/ignatzorin/escrow-broker/internal/pkg/apperror"

type DealStatus string

const (
	DealStatusPending   DealStatus = "pending"
	DealStatusPaid      DealStatus = "paid"
	DealStatusConfirmed DealStatus = "confirmed"
	DealStatusCompleted DealStatus = "completed"
	DealStatusDisputed  DealStatus = "disputed"
	DealStatusRefunded  DealStatus = "refunded"
	DealStatusCancelled DealStatus = "cancelled"
)

// AllDealStatuses перечисляет статусы в порядке жизненного цикла.
var AllDealStatuses = []DealStatus{
	DealStatusPending,
	DealStatusPaid,
	DealStatusConfirmed,
	DealStatusCompleted,
	DealStatusDisputed,
	DealStatusRefunded,
	DealStatusCancelled,
}

var dealTransitions = map[DealStatus][]DealStatus{
	DealStatusPending:   {DealStatusPaid, DealStatusCancelled},
	DealStatusPaid:      {DealStatusConfirmed, DealStatusDisputed},
	DealStatusConfirmed: {DealStatusCompleted, DealStatusDisputed},
	DealStatusDisputed:  {DealStatusRefunded, DealStatusCompleted, DealStatusCancelled},
	DealStatusCompleted: {},
	DealStatusRefunded:  {},
	DealStatusCancelled: {},
}

func (s DealStatus) IsValid() bool {
	_, ok := dealTransitions[s]
	return ok
}

// IsTerminal возвращает true для статусов, из которых нет переходов.
func (s DealStatus) IsTerminal() bool {
	allowed, ok := dealTransitions[s]
	return ok && len(allowed) == 0
}

func (s DealStatus) CanTransitionTo(newStatus DealStatus) bool {
	allowed, ok := dealTransitions[s]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

func (s DealStatus) String() string {
	return string(s)
}

func NewDealStatus(status string) (DealStatus, error) {
	s := DealStatus(status)
	if !s.IsValid() {
		return "", apperror.Newf(apperror.ErrCodeValidation, "некорректный статус сделки: %s", status)
	}
	return s, nil
}
