package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/cooperative-backend/pkg/db"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox/payloads"
)

const referenceConstraint = "uq_transactions_reference"

var (
	// ErrInsufficientFunds is returned when a posting would drive a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateReference is returned when a transaction reference was already recorded.
	ErrDuplicateReference = errors.New("duplicate ledger reference")
)

// Service defines the balance mutation primitives every engine component uses.
type Service interface {
	Post(ctx context.Context, tx *gorm.DB, postings ...Posting) ([]models.Transaction, error)
	Deposit(ctx context.Context, input DepositInput) (*DepositResult, error)
	Reconcile(ctx context.Context, memberID uuid.UUID) (*Reconciliation, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo    Repository
	tx      txRunner
	emitter outbox.Emitter
}

// Posting is one ledger entry together with the balance movement it implies.
type Posting struct {
	MemberID       uuid.UUID
	Type           enums.TransactionType
	AmountCents    int64
	Reference      string
	Description    string
	ContributionID *uuid.UUID
	BonusID        *uuid.UUID
}

// Delta returns the balance change for the posting. Contributions move money
// from the spendable balance into locked capital and accrue BV.
func (p Posting) Delta() BalanceDelta {
	signed := p.AmountCents
	if p.Type.Direction() == enums.TransactionDirectionOut {
		signed = -signed
	}
	d := BalanceDelta{AvailableCents: signed}
	if p.Type == enums.TransactionTypeContribution {
		d.LockedCents = p.AmountCents
		d.BVCents = p.AmountCents
	}
	return d
}

func (p Posting) validate() error {
	switch {
	case p.MemberID == uuid.Nil:
		return fmt.Errorf("member id is required")
	case !p.Type.IsValid():
		return fmt.Errorf("invalid transaction type %q", p.Type)
	case p.AmountCents <= 0:
		return fmt.Errorf("amount must be positive")
	case strings.TrimSpace(p.Reference) == "":
		return fmt.Errorf("reference is required")
	}
	return nil
}

// DepositInput is a gateway-reported funding success.
type DepositInput struct {
	MemberID    uuid.UUID
	AmountCents int64
	Reference   string
	Description string
}

// DepositResult reports the recorded transaction. Duplicate is set when the
// reference had already been credited.
type DepositResult struct {
	Transaction models.Transaction
	Duplicate   bool
}

// Reconciliation compares stored balances against the transaction log.
type Reconciliation struct {
	MemberID               uuid.UUID `json:"memberId"`
	AvailableCents         int64     `json:"availableCents"`
	ExpectedAvailableCents int64     `json:"expectedAvailableCents"`
	LockedCents            int64     `json:"lockedCents"`
	ExpectedLockedCents    int64     `json:"expectedLockedCents"`
	BVCents                int64     `json:"bvCents"`
	ExpectedBVCents        int64     `json:"expectedBvCents"`
	InCents                int64     `json:"inCents"`
	OutCents               int64     `json:"outCents"`
	Balanced               bool      `json:"balanced"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{repo: repo, tx: tx, emitter: emitter}, nil
}

// Post applies postings inside tx. Deltas are summed per member and applied
// with one guarded update each, then one transaction row is written per posting.
func (s *service) Post(ctx context.Context, tx *gorm.DB, postings ...Posting) ([]models.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if len(postings) == 0 {
		return nil, nil
	}
	repo := s.repo.WithTx(tx)

	order := make([]uuid.UUID, 0, 1)
	deltas := make(map[uuid.UUID]BalanceDelta)
	txns := make([]models.Transaction, 0, len(postings))
	for _, p := range postings {
		if err := p.validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid posting")
		}
		if _, seen := deltas[p.MemberID]; !seen {
			order = append(order, p.MemberID)
		}
		deltas[p.MemberID] = deltas[p.MemberID].add(p.Delta())
		txns = append(txns, models.Transaction{
			MemberID:       p.MemberID,
			Type:           p.Type,
			Direction:      p.Type.Direction(),
			AmountCents:    p.AmountCents,
			Status:         enums.TransactionStatusCompleted,
			Reference:      p.Reference,
			Description:    p.Description,
			ContributionID: p.ContributionID,
			BonusID:        p.BonusID,
		})
	}

	for _, memberID := range order {
		ok, err := repo.ApplyDelta(ctx, memberID, deltas[memberID])
		if dbpkg.IsCheckViolation(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, ErrInsufficientFunds, "balance would go negative")
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply balance delta")
		}
		if ok {
			continue
		}
		if _, err := repo.FindMember(ctx, memberID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, ErrInsufficientFunds, "insufficient available balance")
	}

	if err := repo.CreateTransactions(ctx, txns); err != nil {
		if dbpkg.IsUniqueViolation(err, referenceConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrDuplicateReference, "ledger reference already recorded")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger transactions")
	}
	return txns, nil
}

func (s *service) Deposit(ctx context.Context, input DepositInput) (*DepositResult, error) {
	input.Reference = strings.TrimSpace(input.Reference)
	if input.MemberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if input.Description == "" {
		input.Description = "Wallet funding"
	}

	var result DepositResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		existing, err := s.repo.WithTx(tx).FindByReference(ctx, input.Reference)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup reference")
		}
		if existing != nil {
			result = DepositResult{Transaction: *existing, Duplicate: true}
			return nil
		}
		txns, err := s.Post(ctx, tx, Posting{
			MemberID:    input.MemberID,
			Type:        enums.TransactionTypeDeposit,
			AmountCents: input.AmountCents,
			Reference:   input.Reference,
			Description: input.Description,
		})
		if err != nil {
			return err
		}
		result = DepositResult{Transaction: txns[0]}
		memberID := input.MemberID
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFundsDeposited,
			AggregateType: enums.AggregateMember,
			AggregateID:   input.MemberID,
			Actor:         &outbox.ActorRef{MemberID: &memberID},
			Data: payloads.FundsDepositedEvent{
				MemberID:      input.MemberID,
				TransactionID: txns[0].ID,
				AmountCents:   input.AmountCents,
				Reference:     input.Reference,
			},
		})
	})
	if errors.Is(err, ErrDuplicateReference) {
		existing, lookupErr := s.repo.FindByReference(ctx, input.Reference)
		if lookupErr == nil && existing != nil {
			result, err = DepositResult{Transaction: *existing, Duplicate: true}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	if result.Duplicate && result.Transaction.MemberID != input.MemberID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "reference belongs to another member")
	}
	return &result, nil
}

func (s *service) Reconcile(ctx context.Context, memberID uuid.UUID) (*Reconciliation, error) {
	if memberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id is required")
	}
	member, err := s.repo.FindMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member")
	}
	totals, err := s.repo.Totals(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger")
	}

	rec := &Reconciliation{
		MemberID:       memberID,
		AvailableCents: member.AvailableBalanceCents,
		LockedCents:    member.LockedBalanceCents,
		BVCents:        member.BVBalance,
	}
	for _, t := range totals {
		if t.Direction == enums.TransactionDirectionIn {
			rec.InCents += t.Cents
		} else {
			rec.OutCents += t.Cents
		}
		if t.Type == enums.TransactionTypeContribution {
			rec.ExpectedLockedCents += t.Cents
			rec.ExpectedBVCents += t.Cents
		}
	}
	rec.ExpectedAvailableCents = rec.InCents - rec.OutCents
	rec.Balanced = rec.ExpectedAvailableCents == rec.AvailableCents &&
		rec.ExpectedLockedCents == rec.LockedCents &&
		rec.ExpectedBVCents == rec.BVCents
	return rec, nil
}
