package models

// All lists every persisted model in dependency order. Used by sqlite
// bootstrap and tests; Postgres schema is owned by the goose migrations.
func All() []any {
	return []any{
		&Member{},
		&Tier{},
		&Subscription{},
		&Contribution{},
		&Transaction{},
		&Referral{},
		&Bonus{},
		&Notification{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
