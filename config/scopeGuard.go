package config

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/exchange_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScopeGuardPlugin enforces scope isolation by automatically restricting
// queries/updates/deletes to the request's scope_id when the model has a scope_id column.
// An order must never read or touch another scope's rows even when a handler forgets
// the explicit filter.
//
// NOTE:
// - This does NOT apply to Raw SQL queries. Those must include scope_id manually.
// - Operator/internal bypass is explicit via context flags.
type ScopeGuardPlugin struct{}

func NewScopeGuardPlugin() *ScopeGuardPlugin { return &ScopeGuardPlugin{} }

func (p *ScopeGuardPlugin) Name() string { return "scope_guard" }

func (p *ScopeGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("scope_guard:query", scopeGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("scope_guard:row", scopeGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("scope_guard:update", scopeGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("scope_guard:delete", scopeGuardCallback); err != nil {
		return err
	}
	return nil
}

func scopeGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if shouldBypassScopeGuard(ctx) {
		return
	}
	scopeID := scopeIdFromContext(ctx)
	if scopeID == "" {
		return
	}

	// Only apply if the current model/table includes a scope_id column.
	if db.Statement.Schema == nil {
		return
	}
	hasScopeID := false
	for _, f := range db.Statement.Schema.Fields {
		if strings.EqualFold(f.DBName, "scope_id") {
			hasScopeID = true
			break
		}
	}
	if !hasScopeID {
		return
	}

	// Don't duplicate an explicit scope filter.
	if whereHasScopeID(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "scope_id"},
				Value:  scopeID,
			},
		},
	})
}

func scopeIdFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(appctx.ContextKeyScopeId).(string); ok && v != "" {
		return v
	}
	return ""
}

func shouldBypassScopeGuard(ctx context.Context) bool {
	if v, ok := ctx.Value(appctx.ContextKeySkipScopeGuard).(bool); ok && v {
		return true
	}
	if v, ok := ctx.Value(appctx.ContextKeyIsOperator).(bool); ok && v {
		return true
	}
	return false
}

func whereHasScopeID(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasScopeID(e) {
			return true
		}
	}
	return false
}

func exprHasScopeID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsScopeID(v.Column)
	case clause.Neq:
		return colIsScopeID(v.Column)
	case clause.IN:
		return colIsScopeID(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasScopeID(x) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasScopeID(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), "scope_id")
	default:
		return false
	}
}

func colIsScopeID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "scope_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "scope_id")
	default:
		return false
	}
}
