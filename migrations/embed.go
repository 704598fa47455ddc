// Package migrations embeds the schema of the default graysql database.
//
// Files follow the {version}_{description}.{up|down}.sql naming used by
// database.LoadMigrationsFS. Only up migrations are applied; down files
// document how to revert by hand.
package migrations

import (
	"embed"
	"fmt"

	"github.com/nerrad567/graysql/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// Load returns the embedded migrations, ordered by version.
func Load() ([]database.Migration, error) {
	migrations, err := database.LoadMigrationsFS(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("loading embedded migrations: %w", err)
	}
	return migrations, nil
}

// Register adds the embedded migrations to set under id. They run the
// first time id is loaded.
func Register(set *database.MigrationSet, id string) error {
	migrations, err := Load()
	if err != nil {
		return err
	}
	set.Register(id, migrations)
	return nil
}
