package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// Repository manages persistence for member balances and ledger transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockMember(ctx context.Context, memberID uuid.UUID) (*models.Member, error)
	FindMember(ctx context.Context, memberID uuid.UUID) (*models.Member, error)
	ApplyDelta(ctx context.Context, memberID uuid.UUID, delta BalanceDelta) (bool, error)
	CreateTransactions(ctx context.Context, txns []models.Transaction) error
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	Totals(ctx context.Context, memberID uuid.UUID) ([]TypeTotal, error)
}

// BalanceDelta is a signed change applied to the three member balances.
type BalanceDelta struct {
	AvailableCents int64
	LockedCents    int64
	BVCents        int64
}

func (d BalanceDelta) add(o BalanceDelta) BalanceDelta {
	return BalanceDelta{
		AvailableCents: d.AvailableCents + o.AvailableCents,
		LockedCents:    d.LockedCents + o.LockedCents,
		BVCents:        d.BVCents + o.BVCents,
	}
}

// TypeTotal is the completed amount per (type, direction) for one member.
type TypeTotal struct {
	Type      enums.TransactionType
	Direction enums.TransactionDirection
	Cents     int64
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockMember(ctx context.Context, memberID uuid.UUID) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", memberID).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) FindMember(ctx context.Context, memberID uuid.UUID) (*models.Member, error) {
	var member models.Member
	if err := r.db.WithContext(ctx).Where("id = ?", memberID).First(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

// ApplyDelta updates the balances only if none of them would go negative. It
// reports false when the guard rejected the update.
func (r *repository) ApplyDelta(ctx context.Context, memberID uuid.UUID, delta BalanceDelta) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", memberID).
		Where("available_balance_cents + ? >= 0", delta.AvailableCents).
		Where("locked_balance_cents + ? >= 0", delta.LockedCents).
		Where("bv_balance + ? >= 0", delta.BVCents).
		Updates(map[string]any{
			"available_balance_cents": gorm.Expr("available_balance_cents + ?", delta.AvailableCents),
			"locked_balance_cents":    gorm.Expr("locked_balance_cents + ?", delta.LockedCents),
			"bv_balance":              gorm.Expr("bv_balance + ?", delta.BVCents),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateTransactions(ctx context.Context, txns []models.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&txns).Error
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) Totals(ctx context.Context, memberID uuid.UUID) ([]TypeTotal, error) {
	var rows []struct {
		Type      enums.TransactionType
		Direction enums.TransactionDirection
		Cents     int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("type, direction, COALESCE(SUM(amount_cents), 0) AS cents").
		Where("member_id = ? AND status = ?", memberID, enums.TransactionStatusCompleted).
		Group("type, direction").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]TypeTotal, 0, len(rows))
	for _, row := range rows {
		out = append(out, TypeTotal{Type: row.Type, Direction: row.Direction, Cents: row.Cents})
	}
	return out, nil
}
