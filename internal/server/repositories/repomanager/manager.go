package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophaccount/internal/dbx"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/compliance"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so the same service
// code runs against *sql.DB or inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Challenges(db dbx.DBTX) challenges.Repository
	Compliance(db dbx.DBTX) compliance.Repository
}
