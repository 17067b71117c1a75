package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// Error taxonomy for store operations. Callers distinguish these with
// errors.Is.
var (
	// ErrNotFound is returned when the referenced message or session does
	// not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by CreateMessage on an id collision.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAlreadyAnswered is returned by UpdateAnswer when the answer was
	// already set; the absent -> present transition happens at most once.
	ErrAlreadyAnswered = errors.New("answer already set")
)

// Key layout:
//   msg:<id>                     primary message record
//   session:<sessionID>:msg:<id> session index (same payload; ids are
//                                time-ordered so a prefix scan is chronological)
//   session:<sessionID>:meta     session metadata
//   session:<sessionID>:memory   latest continuation token for the session
//   memory:<token>               agent transcript for a continuation token

func msgKey(id string) []byte { return []byte("msg:" + id) }

func sessionMsgKey(sessionID, id string) []byte {
	return []byte("session:" + sessionID + ":msg:" + id)
}

func sessionMetaKey(sessionID string) []byte {
	return []byte("session:" + sessionID + ":meta")
}

func sessionMemoryKey(sessionID string) []byte {
	return []byte("session:" + sessionID + ":memory")
}

func transcriptKey(token string) []byte { return []byte("memory:" + token) }

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for the process lifetime.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// CreateMessage inserts a new pending message. It fails with
// ErrAlreadyExists when the id collides with an existing record. The primary
// record and the session index entry are written in one synced batch.
func CreateMessage(m models.Message) error {
	if db == nil {
		return notOpened()
	}
	if _, closer, err := db.Get(msgKey(m.ID)); err == nil {
		if closer != nil {
			_ = closer.Close()
		}
		return fmt.Errorf("message %s: %w", m.ID, ErrAlreadyExists)
	} else if !errors.Is(err, pebble.ErrNotFound) {
		recordError("create")
		return err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	wb := db.NewBatch()
	defer wb.Close()
	_ = wb.Set(msgKey(m.ID), data, nil)
	_ = wb.Set(sessionMsgKey(m.SessionID, m.ID), data, nil)
	if err := wb.Commit(pebble.Sync); err != nil {
		recordError("create")
		logger.Error("create_message_failed", "session", m.SessionID, "id", m.ID, "error", err)
		return err
	}
	recordWrite("create")
	logger.Info("message_created", "session", m.SessionID, "id", m.ID)
	return nil
}

// GetMessage returns the message record for id or ErrNotFound.
func GetMessage(id string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	v, closer, err := db.Get(msgKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		recordError("get")
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message JSON: %w", err)
	}
	recordRead("get")
	return m, nil
}

// UpdateAnswer attaches the answer (and the new continuation token, if any)
// to an existing pending message. The update is conditional: it fails with
// ErrNotFound when the record does not exist and with ErrAlreadyAnswered
// when the answer was already set. No upsert semantics. The primary record,
// the session index entry and the session's memory pointer are written in
// one synced batch.
func UpdateAnswer(id, answer, memoryID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	m, err := GetMessage(id)
	if err != nil {
		return m, err
	}
	if m.Answered() {
		return m, fmt.Errorf("message %s: %w", id, ErrAlreadyAnswered)
	}
	m.Answer = answer
	m.MemoryID = memoryID
	data, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("failed to marshal message: %w", err)
	}
	wb := db.NewBatch()
	defer wb.Close()
	_ = wb.Set(msgKey(m.ID), data, nil)
	_ = wb.Set(sessionMsgKey(m.SessionID, m.ID), data, nil)
	if memoryID != "" {
		_ = wb.Set(sessionMemoryKey(m.SessionID), []byte(memoryID), nil)
	}
	// an answered exchange is session activity; the retention sweep reads
	// UpdatedTS to decide idleness
	if s, serr := GetSession(m.SessionID); serr == nil {
		s.UpdatedTS = time.Now().UTC().UnixNano()
		if sdata, merr := json.Marshal(s); merr == nil {
			_ = wb.Set(sessionMetaKey(m.SessionID), sdata, nil)
		}
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		recordError("update_answer")
		logger.Error("update_answer_failed", "session", m.SessionID, "id", m.ID, "error", err)
		return m, err
	}
	recordWrite("update_answer")
	logger.Info("answer_saved", "session", m.SessionID, "id", m.ID)
	return m, nil
}

// ListBySession returns all messages of a session in id order, which is
// chronological since ids carry the creation timestamp. An optional limit
// returns only the most recent n messages.
func ListBySession(sessionID string, limit ...int) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("session:" + sessionID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("list_invalid_message_json", "key", string(iter.Key()), "error", err)
			return nil, fmt.Errorf("invalid message JSON: %w", err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		recordError("list")
		return nil, err
	}
	if len(limit) > 0 && limit[0] >= 0 && limit[0] < len(out) {
		out = out[len(out)-limit[0]:]
	}
	recordRead("list")
	return out, nil
}

// SaveSession stores session metadata under a reserved key.
func SaveSession(s models.Session) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := db.Set(sessionMetaKey(s.ID), data, pebble.Sync); err != nil {
		recordError("save_session")
		logger.Error("save_session_failed", "session", s.ID, "error", err)
		return err
	}
	recordWrite("save_session")
	return nil
}

// GetSession returns the stored session metadata or ErrNotFound.
func GetSession(sessionID string) (models.Session, error) {
	var s models.Session
	if db == nil {
		return s, notOpened()
	}
	v, closer, err := db.Get(sessionMetaKey(sessionID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return s, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		recordError("get_session")
		return s, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &s); err != nil {
		return s, fmt.Errorf("invalid session JSON: %w", err)
	}
	return s, nil
}

// ListSessions returns all saved session metadata values.
func ListSessions() ([]models.Session, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("session:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Session
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var s models.Session
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, iter.Error()
}

// SessionMemory returns the latest continuation token recorded for the
// session, or empty when the session has none yet.
func SessionMemory(sessionID string) (string, error) {
	if db == nil {
		return "", notOpened()
	}
	v, closer, err := db.Get(sessionMemoryKey(sessionID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// SaveTranscript persists the agent transcript for a continuation token.
func SaveTranscript(token string, data []byte) error {
	if db == nil {
		return notOpened()
	}
	if err := db.Set(transcriptKey(token), data, pebble.Sync); err != nil {
		recordError("save_transcript")
		return err
	}
	recordWrite("save_transcript")
	return nil
}

// GetTranscript returns the stored transcript for a continuation token or
// ErrNotFound.
func GetTranscript(token string) ([]byte, error) {
	if db == nil {
		return nil, notOpened()
	}
	v, closer, err := db.Get(transcriptKey(token))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("transcript %s: %w", token, ErrNotFound)
		}
		return nil, err
	}
	defer closer.Close()
	out := append([]byte(nil), v...)
	return out, nil
}

// DeleteSessionData removes a session's metadata, memory pointer, transcript
// and all of its messages. Used only by the retention sweep; the core never
// deletes. Returns the number of messages removed.
func DeleteSessionData(sessionID string) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	msgs, err := ListBySession(sessionID)
	if err != nil {
		return 0, err
	}
	token, _ := SessionMemory(sessionID)

	wb := db.NewBatch()
	defer wb.Close()
	for _, m := range msgs {
		_ = wb.Delete(msgKey(m.ID), nil)
		_ = wb.Delete(sessionMsgKey(sessionID, m.ID), nil)
	}
	_ = wb.Delete(sessionMetaKey(sessionID), nil)
	_ = wb.Delete(sessionMemoryKey(sessionID), nil)
	if token != "" {
		_ = wb.Delete(transcriptKey(token), nil)
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		recordError("delete_session")
		return 0, err
	}
	logger.Info("session_deleted", "session", sessionID, "messages", len(msgs))
	return len(msgs), nil
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB. Used by the inspect
// tool.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if len(pfx) > 0 && !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	return out, iter.Error()
}
