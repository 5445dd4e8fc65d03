// Package history persists completed trips and the anchors needed to recover
// a trip after a restart in a local bbolt database.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/autopeer-io/cabmeter/internal/trip"
)

// ErrNotFound is returned when a trip or anchor does not exist.
var ErrNotFound = errors.New("history: not found")

var (
	bucketTrips   = []byte("trips")
	bucketTripKey = []byte("trip_keys")
	bucketMeta    = []byte("meta")

	keyOngoing  = []byte("ongoing_trip_id")
	keyIdentity = []byte("device_identity")
)

// DefaultRetention is the number of completed trips kept.
const DefaultRetention = 1000

type Option func(*Store)

// WithRetention bounds the number of completed trips kept; older trips are pruned.
func WithRetention(n int) Option {
	return func(s *Store) { s.retention = n }
}

// Store is the bbolt backed trip history.
type Store struct {
	db        *bolt.DB
	retention int
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTrips, bucketTripKey, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: init buckets: %w", err)
	}

	s := &Store{db: db, retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AppendCompletedTrip stores t. Appending the same trip again replaces it.
func (s *Store) AppendCompletedTrip(_ context.Context, t *trip.Trip) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("history: trip without id")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("history: encode trip %s: %w", t.ID, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		trips, keys := tx.Bucket(bucketTrips), tx.Bucket(bucketTripKey)
		if old := keys.Get([]byte(t.ID)); old != nil {
			if err := trips.Delete(old); err != nil {
				return err
			}
		}
		key := tripKey(t)
		if err := trips.Put(key, data); err != nil {
			return err
		}
		if err := keys.Put([]byte(t.ID), key); err != nil {
			return err
		}
		return s.prune(trips, keys)
	})
}

// SetDash records whether trip id was paid through the dash app.
func (s *Store) SetDash(_ context.Context, id string, dash bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		trips := tx.Bucket(bucketTrips)
		key := tx.Bucket(bucketTripKey).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: trip %s", ErrNotFound, id)
		}
		t, err := decodeTrip(trips.Get(key))
		if err != nil {
			return err
		}
		t.IsDash = dash
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return trips.Put(key, data)
	})
}

// Get returns the completed trip id.
func (s *Store) Get(_ context.Context, id string) (*trip.Trip, error) {
	var t *trip.Trip
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketTripKey).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: trip %s", ErrNotFound, id)
		}
		var err error
		t, err = decodeTrip(tx.Bucket(bucketTrips).Get(key))
		return err
	})
	return t, err
}

// List returns up to limit completed trips, most recent first. A limit of
// zero or less returns every trip.
func (s *Store) List(_ context.Context, limit int) ([]*trip.Trip, error) {
	var out []*trip.Trip
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTrips).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			t, err := decodeTrip(v)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

// MostRecent returns the last completed trip.
func (s *Store) MostRecent(ctx context.Context) (*trip.Trip, error) {
	trips, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, ErrNotFound
	}
	return trips[0], nil
}

// OngoingTripID returns the id of the trip the meter is running, or "".
func (s *Store) OngoingTripID(context.Context) (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		id = string(tx.Bucket(bucketMeta).Get(keyOngoing))
		return nil
	})
	return id, err
}

func (s *Store) SetOngoingTripID(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyOngoing, []byte(id))
	})
}

func (s *Store) ClearOngoingTripID(context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Delete(keyOngoing)
	})
}

// Identity returns the last device identity reported by the board.
func (s *Store) Identity(context.Context) (trip.DeviceIdentity, error) {
	var id trip.DeviceIdentity
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyIdentity)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &id)
	})
	return id, err
}

func (s *Store) SaveIdentity(_ context.Context, id trip.DeviceIdentity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyIdentity, data)
	})
}

// prune drops the oldest trips beyond the retention limit.
func (s *Store) prune(trips, keys *bolt.Bucket) error {
	if s.retention <= 0 {
		return nil
	}
	n := 0
	c := trips.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	if n <= s.retention {
		return nil
	}

	var stale [][]byte
	for k, v := c.First(); k != nil && len(stale) < n-s.retention; k, v = c.Next() {
		stale = append(stale, k)
		if t, err := decodeTrip(v); err == nil {
			if err := keys.Delete([]byte(t.ID)); err != nil {
				return err
			}
		}
	}
	for _, k := range stale {
		if err := trips.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// tripKey orders trips by end time, then id.
func tripKey(t *trip.Trip) []byte {
	at := t.StartTime
	if t.EndTime != nil {
		at = *t.EndTime
	}
	key := make([]byte, 8, 8+len(t.ID))
	binary.BigEndian.PutUint64(key, uint64(at.UnixNano()))
	return append(key, t.ID...)
}

func decodeTrip(data []byte) (*trip.Trip, error) {
	if data == nil {
		return nil, ErrNotFound
	}
	t := &trip.Trip{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("history: decode trip: %w", err)
	}
	return t, nil
}
