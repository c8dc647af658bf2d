package appdata

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// legacyData is the on-disk shape of the old flat-file document store: each
// top-level key is a table name mapping opaque string ids to record
// documents. A "_default" bucket may appear and is ignored.
type legacyData map[string]map[string]map[string]any

// MigrateFromLegacyStore imports data from the legacy flat-file document
// store at legacyPath into the matches, pr_matches and config tables.
//
// A missing file means there is nothing to migrate and counts as success.
// An unparseable file returns false and commits nothing: the import is
// all-or-nothing. Legacy internal identity fields are stripped before
// storage; the new store assigns its own surrogate ids.
func (s *Store) MigrateFromLegacyStore(legacyPath string) bool {
	if _, err := os.Stat(legacyPath); os.IsNotExist(err) {
		log.WithField("path", legacyPath).Info("no legacy data file found, skipping migration")
		return true
	}

	log.WithField("path", legacyPath).Info("starting migration from legacy data file")

	raw, err := os.ReadFile(legacyPath) // #nosec G304 - controlled path from configuration
	if err != nil {
		log.WithError(err).Error("migration failed: unable to read legacy file")
		return false
	}

	var legacy legacyData
	if err := json.Unmarshal(raw, &legacy); err != nil {
		log.WithError(err).Error("migration failed: legacy file is not valid JSON")
		return false
	}

	tx, err := s.conn.Begin()
	if err != nil {
		log.WithError(err).Error("migration failed: unable to begin transaction")
		return false
	}
	defer tx.Rollback()

	for _, table := range documentTables {
		records, ok := legacy[table]
		if !ok {
			continue
		}
		count := 0
		for legacyID, record := range records {
			if legacyID == "_default" {
				continue
			}
			clean := make(map[string]any, len(record))
			for k, v := range record {
				if k == DocIDKey {
					continue
				}
				clean[k] = v
			}
			data, err := json.Marshal(clean)
			if err != nil {
				log.WithError(err).WithField("table", table).Error("migration failed: unable to encode record")
				return false
			}
			if _, err := tx.Exec(
				fmt.Sprintf(`INSERT INTO %s (data) VALUES (?)`, table), string(data),
			); err != nil {
				log.WithError(err).WithField("table", table).Error("migration failed: insert error")
				return false
			}
			count++
		}
		log.WithFields(log.Fields{"table": table, "count": count}).Info("migrated legacy records")
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("migration failed: unable to commit")
		return false
	}

	log.Info("migration completed successfully")
	return true
}
