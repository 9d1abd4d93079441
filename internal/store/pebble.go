package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/cockroachdb/pebble"
)

// Key layout:
//
//	session:<userID>  -> JSON domain.Session
//	message:<seq>     -> JSON domain.Message, seq zero padded to keep log order
//	removed:<userID>  -> empty
const (
	sessionPrefix = "session:"
	messagePrefix = "message:"
	removedPrefix = "removed:"
)

// PebbleStore implements Repository on a Pebble key-value store.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebble opens (or creates) a Pebble database in dir.
func NewPebble(dir string) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, fmt.Errorf("create pebble directory: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	slog.Info("Pebble store opened", "path", dir)
	return &PebbleStore{db: db}, nil
}

// Ping verifies the database handle is usable.
func (s *PebbleStore) Ping(_ context.Context) error {
	if s.db == nil {
		return errors.New("pebble not opened")
	}
	_, closer, err := s.db.Get([]byte(sessionPrefix))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pebble ping: %w", err)
	}
	return closer.Close()
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close pebble: %w", err)
	}
	s.db = nil
	return nil
}

// Load reads the full snapshot.
func (s *PebbleStore) Load(_ context.Context) (*domain.Snapshot, error) {
	snap := domain.NewSnapshot()

	err := s.scan(sessionPrefix, func(_, value []byte) error {
		var sess domain.Session
		if err := json.Unmarshal(value, &sess); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		snap.Sessions[sess.UserID] = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(messagePrefix, func(_, value []byte) error {
		var msg domain.Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		snap.Messages = append(snap.Messages, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(removedPrefix, func(key, _ []byte) error {
		snap.RemovedUsers = append(snap.RemovedUsers, string(key[len(removedPrefix):]))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return normalize(snap), nil
}

// Save replaces the stored snapshot with one synced batch.
func (s *PebbleStore) Save(_ context.Context, snap *domain.Snapshot) error {
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()

	if err := deletePrefixes(batch); err != nil {
		return err
	}

	for id, sess := range snap.Sessions {
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", id, err)
		}
		if err := batch.Set([]byte(sessionPrefix+id), data, nil); err != nil {
			return fmt.Errorf("stage session %s: %w", id, err)
		}
	}
	for i, msg := range snap.Messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", msg.ID, err)
		}
		key := fmt.Sprintf("%s%010d", messagePrefix, i)
		if err := batch.Set([]byte(key), data, nil); err != nil {
			return fmt.Errorf("stage message %s: %w", msg.ID, err)
		}
	}
	for _, id := range snap.RemovedUsers {
		if err := batch.Set([]byte(removedPrefix+id), nil, nil); err != nil {
			return fmt.Errorf("stage removed user %s: %w", id, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Clear deletes all stored state.
func (s *PebbleStore) Clear(_ context.Context) error {
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()

	if err := deletePrefixes(batch); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

func (s *PebbleStore) scan(prefix string, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return fmt.Errorf("open iterator %s: %w", prefix, err)
	}
	defer func() { _ = iter.Close() }()

	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, []byte(prefix)) {
			continue
		}
		// Copy out: the iterator reuses its buffers.
		k := append([]byte(nil), key...)
		v := append([]byte(nil), iter.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return iter.Error()
}

func deletePrefixes(batch *pebble.Batch) error {
	for _, prefix := range []string{sessionPrefix, messagePrefix, removedPrefix} {
		if err := batch.DeleteRange([]byte(prefix), prefixEnd(prefix), nil); err != nil {
			return fmt.Errorf("clear %s: %w", prefix, err)
		}
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}
