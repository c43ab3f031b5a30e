// Package sqlitebackend is an optional registrar.Backend that persists
// bindings to a SQLite database via modernc.org/sqlite, so registrations
// survive a process restart. Grounded on zurustar-xylitol2's sqlite-backed
// storage layer; the registrar's in-memory store stays authoritative and
// only consults this port to load/save.
package sqlitebackend

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nexsip/nexsip/registrar"
	"github.com/nexsip/nexsip/sip"
)

const schema = `
CREATE TABLE IF NOT EXISTS bindings (
	aor TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	reg_id TEXT NOT NULL,
	uri TEXT NOT NULL,
	call_id TEXT NOT NULL,
	cseq INTEGER NOT NULL,
	pub_gruu TEXT NOT NULL,
	temp_gruu TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (aor, instance_id, reg_id)
);
`

// Backend implements registrar.Backend on top of a SQLite file.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and ensures
// the bindings table exists.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite backend: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close closes the underlying database handle.
func (b *Backend) Close() error { return b.db.Close() }

// Save upserts c's binding row.
func (b *Backend) Save(c *registrar.Contact) error {
	_, err := b.db.Exec(`
		INSERT INTO bindings (aor, instance_id, reg_id, uri, call_id, cseq, pub_gruu, temp_gruu, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aor, instance_id, reg_id) DO UPDATE SET
			uri = excluded.uri,
			call_id = excluded.call_id,
			cseq = excluded.cseq,
			pub_gruu = excluded.pub_gruu,
			temp_gruu = excluded.temp_gruu,
			expires_at = excluded.expires_at
	`, c.AOR, c.InstanceID, c.RegID, c.URI.String(), c.CallID, c.CSeq, c.PubGRUU.String(), c.TempGRUU.String(), c.ExpiresAt)
	return err
}

// Delete removes the row for (aor, instanceID, regID).
func (b *Backend) Delete(aor, instanceID, regID string) error {
	_, err := b.db.Exec(`DELETE FROM bindings WHERE aor = ? AND instance_id = ? AND reg_id = ?`, aor, instanceID, regID)
	return err
}

// Load reads every persisted binding back into memory. Contact.URI/PubGRUU/
// TempGRUU are reparsed from their stored string form.
func (b *Backend) Load() ([]*registrar.Contact, error) {
	rows, err := b.db.Query(`SELECT aor, instance_id, reg_id, uri, call_id, cseq, pub_gruu, temp_gruu, expires_at FROM bindings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*registrar.Contact
	for rows.Next() {
		var (
			aor, instanceID, regID, uriStr, callID, pubGRUUStr, tempGRUUStr string
			cseq                                                            uint32
			expiresAt                                                      time.Time
		)
		if err := rows.Scan(&aor, &instanceID, &regID, &uriStr, &callID, &cseq, &pubGRUUStr, &tempGRUUStr, &expiresAt); err != nil {
			return nil, err
		}

		var uri sip.Uri
		if err := sip.ParseUri(uriStr, &uri); err != nil {
			continue
		}
		contact := &registrar.Contact{
			AOR:        aor,
			URI:        uri,
			CallID:     callID,
			CSeq:       cseq,
			InstanceID: instanceID,
			RegID:      regID,
			ExpiresAt:  expiresAt,
		}
		if pubGRUUStr != "" {
			var pg sip.Uri
			if sip.ParseUri(pubGRUUStr, &pg) == nil {
				contact.PubGRUU = pg
			}
		}
		if tempGRUUStr != "" {
			var tg sip.Uri
			if sip.ParseUri(tempGRUUStr, &tg) == nil {
				contact.TempGRUU = tg
			}
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}
