package migrations

import "embed"

// FS embeds the SQL migrations applied to PostgreSQL deployments through the
// golang-migrate iofs source driver.
//
//go:embed *.sql
var FS embed.FS

const Version = 1
