package storage

import "github.com/pkg/errors"

// InitStore opens the mirror database and verifies the schema is migrated,
// so a missing migration fails fast at startup instead of on the first query.
func InitStore(dbConnStr string) (*PostgresStore, error) {
	store, err := NewPostgresStore(dbConnStr)
	if err != nil {
		return nil, errors.Wrap(err, "open mirror database")
	}
	if err := store.checkSchema(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) checkSchema() error {
	var n int
	err := s.db.Get(&n, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_name IN ('workflow_definitions', 'execution_records')`)
	if err != nil {
		return errors.Wrap(err, "inspect mirror schema")
	}
	if n < 2 {
		return errors.Errorf("mirror schema incomplete (%d/2 tables); run flowmirror-migrate first", n)
	}
	return nil
}
