// Package testdb opens isolated in-memory sqlite databases carrying the full
// engine schema. It is imported only from _test.go files.
package testdb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/cooperative-backend/pkg/db"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
)

// Open returns a migrated sqlite database unique to t. A single connection
// serializes transactions the way row locks would on Postgres.
func Open(t *testing.T) *db.Client {
	t.Helper()
	dsn := "file:coop_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db.FromConn(conn)
}

// Fixture seeds common rows.
type Fixture struct {
	t  *testing.T
	db *gorm.DB
}

func NewFixture(t *testing.T, client *db.Client) *Fixture {
	return &Fixture{t: t, db: client.DB()}
}

// Member creates a member holding the given spendable balance.
func (f *Fixture) Member(availableCents int64) models.Member {
	f.t.Helper()
	id := uuid.New()
	m := models.Member{
		ID:                    id,
		Email:                 id.String() + "@coop.test",
		FullName:              "Member " + id.String()[:8],
		AvailableBalanceCents: availableCents,
	}
	if err := f.db.Create(&m).Error; err != nil {
		f.t.Fatalf("seed member: %v", err)
	}
	return m
}

// Tier creates a tier.
func (f *Fixture) Tier(weeklyCents, maintenanceCents int64, weeks int) models.Tier {
	f.t.Helper()
	tier := models.Tier{
		Name:                "tier-" + uuid.NewString()[:8],
		WeeklyAmountCents:   weeklyCents,
		MaintenanceFeeCents: maintenanceCents,
		DurationWeeks:       weeks,
		Active:              true,
	}
	if err := f.db.Create(&tier).Error; err != nil {
		f.t.Fatalf("seed tier: %v", err)
	}
	return tier
}

// Subscription creates a subscription in the given state.
func (f *Fixture) Subscription(memberID uuid.UUID, tier models.Tier, status enums.SubscriptionStatus, weeksPaid int, start time.Time) models.Subscription {
	f.t.Helper()
	sub := models.Subscription{
		MemberID:  memberID,
		TierID:    tier.ID,
		Status:    status,
		WeeksPaid: weeksPaid,
		StartDate: start.UTC(),
	}
	if err := f.db.Create(&sub).Error; err != nil {
		f.t.Fatalf("seed subscription: %v", err)
	}
	sub.Tier = tier
	return sub
}

// Contribution creates a contribution row.
func (f *Fixture) Contribution(sub models.Subscription, week int, status enums.ContributionStatus, due time.Time) models.Contribution {
	f.t.Helper()
	row := models.Contribution{
		SubscriptionID: sub.ID,
		MemberID:       sub.MemberID,
		WeekNumber:     week,
		AmountCents:    sub.Tier.WeeklyAmountCents,
		DueDate:        due.UTC(),
		Status:         status,
	}
	if status.Settled() {
		paid := due.UTC()
		row.PaidAt = &paid
	}
	if err := f.db.Create(&row).Error; err != nil {
		f.t.Fatalf("seed contribution: %v", err)
	}
	return row
}

// Referral links referee to referrer.
func (f *Fixture) Referral(referrerID, refereeID uuid.UUID, status enums.ReferralStatus) models.Referral {
	f.t.Helper()
	ref := models.Referral{ReferrerID: referrerID, RefereeID: refereeID, Status: status}
	if err := f.db.Create(&ref).Error; err != nil {
		f.t.Fatalf("seed referral: %v", err)
	}
	return ref
}

// Reload re-reads a member.
func (f *Fixture) Reload(memberID uuid.UUID) models.Member {
	f.t.Helper()
	var m models.Member
	if err := f.db.WithContext(context.Background()).First(&m, "id = ?", memberID).Error; err != nil {
		f.t.Fatalf("reload member: %v", err)
	}
	return m
}

// Count returns the row count for model filtered by query.
func (f *Fixture) Count(model any, query string, args ...any) int64 {
	f.t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		f.t.Fatalf("count: %v", err)
	}
	return n
}
