package localnet

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/opd-ai/deliverify/crypto"
	"github.com/opd-ai/deliverify/netclient"

	_ "modernc.org/sqlite"
)

// stateFileName is the SQLite database file inside a state directory.
const stateFileName = "state.db"

// StateStore is the persisted local state of one installation: a single-file
// SQLite database under a directory owned exclusively by that installation.
// Message content is sealed at rest with the identity's encryption key.
type StateStore struct {
	db  *sql.DB
	dir string
	key [32]byte
}

// OpenStateStore creates (if needed) and opens the state directory for one
// installation.
func OpenStateStore(dir string, encryptionKey [32]byte) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, stateFileName)+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &StateStore{db: db, dir: dir, key: encryptionKey}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS identity (
	name            TEXT NOT NULL,
	installation_id TEXT NOT NULL,
	inbox_id        TEXT NOT NULL,
	address         TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	PRIMARY KEY (name, installation_id)
);
CREATE TABLE IF NOT EXISTS messages (
	event_id        TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_inbox_id TEXT NOT NULL,
	sealed_content  BLOB NOT NULL,
	received_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate state database: %w", err)
	}
	return nil
}

// SaveIdentity records the identity this state directory belongs to.
func (s *StateStore) SaveIdentity(id *crypto.Identity) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO identity (name, installation_id, inbox_id, address, created_at) VALUES (?, ?, ?, ?, ?)`,
		id.Name, id.InstallationID, id.InboxID(), id.Address(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// LogMessage appends one inbound message, sealing its content at rest.
func (s *StateStore) LogMessage(ev netclient.MessageEvent) error {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("failed to generate storage nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(ev.Content), &nonce, &s.key)

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages (event_id, conversation_id, sender_inbox_id, sealed_content, received_at) VALUES (?, ?, ?, ?, ?)`,
		ev.EventID(), ev.ConversationID, ev.SenderInboxID, sealed, ev.ReceivedAt().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return nil
}

// MessageCount reports how many messages this installation has persisted
// for one conversation.
func (s *StateStore) MessageCount(conversationID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Messages returns the persisted, decrypted message contents for one
// conversation in arrival order.
func (s *StateStore) Messages(conversationID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT sealed_content FROM messages WHERE conversation_id = ? ORDER BY received_at`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var sealed []byte
		if err := rows.Scan(&sealed); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if len(sealed) < 24 {
			return nil, fmt.Errorf("sealed message too short: %d bytes", len(sealed))
		}
		var nonce [24]byte
		copy(nonce[:], sealed[:24])
		content, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
		if !ok {
			return nil, fmt.Errorf("failed to unseal persisted message")
		}
		contents = append(contents, string(content))
	}
	return contents, rows.Err()
}

// Dir returns the state directory this store owns.
func (s *StateStore) Dir() string { return s.dir }

// Close releases the database handle. The directory stays on disk until
// RemoveState.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// RemoveState recursively deletes a state directory. Only valid once the
// owning store is closed.
func RemoveState(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove state directory %s: %w", dir, err)
	}
	return nil
}
