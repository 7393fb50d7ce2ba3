package tools

import (
	// Registers "pgx" for the Postgres survey database.
	_ "github.com/jackc/pgx/v5/stdlib"
	// Registers "sqlite" for local survey extracts.
	_ "modernc.org/sqlite"
)
