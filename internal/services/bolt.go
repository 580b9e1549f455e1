package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/dndchat/lmchat/internal/models"
	bolt "go.etcd.io/bbolt"
)

var (
	personasBucket      = []byte("personas")
	sessionsBucket      = []byte("sessions")
	conversationsBucket = []byte("conversations")
)

// BoltDB implements the Store interface using a BoltDB backend. Every conversation between a
// session and a persona lives in its own nested bucket keyed by entry id.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{personasBucket, sessionsBucket, conversationsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return BoltDB{}, err
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// Personas returns every stored persona ordered by name.
func (b BoltDB) Personas(context.Context) ([]models.Persona, error) {
	var personas []models.Persona
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(personasBucket).ForEach(func(_, v []byte) error {
			var p models.Persona
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to unmarshal persona: %w", err)
			}
			personas = append(personas, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return personas, nil
}

// Persona returns the persona called name, or models.ErrNotFound.
func (b BoltDB) Persona(_ context.Context, name string) (models.Persona, error) {
	var p models.Persona
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(personasBucket).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("persona %q: %w", name, models.ErrNotFound)
		}
		if err := json.Unmarshal(v, &p); err != nil {
			return fmt.Errorf("failed to unmarshal persona: %w", err)
		}
		return nil
	})
	return p, err
}

// UpsertPersona stores p, replacing any persona with the same name.
func (b BoltDB) UpsertPersona(_ context.Context, p models.Persona) error {
	v, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal persona: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(personasBucket).Put([]byte(p.Name), v)
	})
}

// DeletePersona removes the persona called name, or returns models.ErrNotFound. Conversations
// with it are kept.
func (b BoltDB) DeletePersona(_ context.Context, name string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(personasBucket)
		if bkt.Get([]byte(name)) == nil {
			return fmt.Errorf("persona %q: %w", name, models.ErrNotFound)
		}
		return bkt.Delete([]byte(name))
	})
}

// SaveEntry appends e to its conversation and returns it with id and time filled in.
func (b BoltDB) SaveEntry(_ context.Context, e models.Entry) (models.Entry, error) {
	e = prepareEntry(e)
	v, err := json.Marshal(e)
	if err != nil {
		return models.Entry{}, fmt.Errorf("failed to marshal entry: %w", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		sess, err := tx.Bucket(conversationsBucket).CreateBucketIfNotExists([]byte(e.SessionID))
		if err != nil {
			return fmt.Errorf("failed to create session bucket: %w", err)
		}
		conv, err := sess.CreateBucketIfNotExists([]byte(e.PersonaName))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}
		return conv.Put([]byte(e.ID), v)
	})
	if err != nil {
		return models.Entry{}, err
	}
	return e, nil
}

// History returns the last limit entries of the conversation between sessionID and persona in
// message-time order. A limit of zero or less returns the whole conversation.
func (b BoltDB) History(_ context.Context, sessionID, persona string, limit int) ([]models.Entry, error) {
	var entries []models.Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		sess := tx.Bucket(conversationsBucket).Bucket([]byte(sessionID))
		if sess == nil {
			return nil
		}
		conv := sess.Bucket([]byte(persona))
		if conv == nil {
			return nil
		}

		c := conv.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e models.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal entry: %w", err)
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}

// SessionSettings returns the stored settings of sessionID. A session without settings gets
// the zero value.
func (b BoltDB) SessionSettings(_ context.Context, sessionID string) (models.SessionSettings, error) {
	s := models.SessionSettings{SessionID: sessionID}
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session settings: %w", err)
		}
		return nil
	})
	return s, err
}

// SaveSessionSettings stores s under its session id.
func (b BoltDB) SaveSessionSettings(_ context.Context, s models.SessionSettings) error {
	if strings.TrimSpace(s.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	v, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session settings: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(s.SessionID), v)
	})
}
