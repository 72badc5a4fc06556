package models

// AllModels lists the tables owned by this service in migration order
func AllModels() []any {
	return []any{
		&Company{},
		&User{},
		&Role{},
		&UserRole{},
		&Rule{},
		&RuleRole{},
		&Assignment{},
		&AuditLog{},
	}
}
