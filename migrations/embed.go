// Package migrations embeds the SQL schema files into the binary so the
// service can bring a fresh database up to date without any files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/cardpass-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
