package models

// All lists every persisted model, in dependency order, for AutoMigrate in
// tests and sqlite development databases.
func All() []any {
	return []any{
		&Product{},
		&Vendor{},
		&Order{},
		&OrderItem{},
		&Dispute{},
		&DisputeResponse{},
		&Payout{},
		&LedgerEvent{},
		&Refund{},
		&OutboxEvent{},
	}
}
