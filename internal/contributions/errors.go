package contributions

import (
	"errors"

	"github.com/angelmondragon/cooperative-backend/internal/ledger"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
)

var (
	ErrNoActiveTier       = errors.New("no active tier")
	ErrWindowClosed       = errors.New("contribution window closed")
	ErrAlreadyContributed = errors.New("already contributed")
	ErrCycleComplete      = errors.New("cycle complete")
	ErrInsufficientFunds  = ledger.ErrInsufficientFunds
	// ErrNothingDue is returned to automated callers when no pending week is due.
	ErrNothingDue = errors.New("nothing due")
)

func noActiveTier() error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrNoActiveTier, "member has no active subscription")
}

func windowClosed() error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrWindowClosed, "contribution window is closed")
}

func alreadyContributed() error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyContributed, "contribution already recorded for this week")
}

func cycleComplete() error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrCycleComplete, "all weeks of the cycle are paid")
}

func nothingDue() error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrNothingDue, "no contribution is due")
}

func insufficientFunds(requiredCents, availableCents int64) error {
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, ErrInsufficientFunds, "insufficient available balance").
		WithDetails(map[string]int64{
			"requiredCents":  requiredCents,
			"availableCents": availableCents,
		})
}
