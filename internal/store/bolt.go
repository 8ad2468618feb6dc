package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
)

var (
	bucketHomes = []byte("homes")
	bucketRooms = []byte("room_states")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHomes, bucketRooms} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveHome(home *netatmo.Home) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHomes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketHomes)
		}
		data, err := json.Marshal(home)
		if err != nil {
			return err
		}
		return b.Put([]byte(home.ID), data)
	})
}

func (s *BoltStore) GetHome(id string) (*netatmo.Home, error) {
	var home netatmo.Home
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHomes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketHomes)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("home %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &home)
	})
	if err != nil {
		return nil, err
	}
	return &home, nil
}

func (s *BoltStore) ListHomes() ([]*netatmo.Home, error) {
	var homes []*netatmo.Home
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHomes)
		if b == nil {
			return nil // no bucket = no homes
		}
		homes = make([]*netatmo.Home, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var home netatmo.Home
			if err := json.Unmarshal(v, &home); err != nil {
				return err
			}
			homes = append(homes, &home)
			return nil
		})
	})
	return homes, err
}

func (s *BoltStore) DeleteHome(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHomes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketHomes)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) SaveRoomSnapshot(homeID string, snap *RoomSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketRooms)
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put(roomKey(homeID, snap.RoomID), data)
	})
}

func (s *BoltStore) GetRoomSnapshot(homeID, roomID string) (*RoomSnapshot, error) {
	var snap RoomSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketRooms)
		}
		data := b.Get(roomKey(homeID, roomID))
		if data == nil {
			return fmt.Errorf("room %s/%s: %w", homeID, roomID, ErrNotFound)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) ListRoomSnapshots(homeID string) ([]*RoomSnapshot, error) {
	prefix := []byte(homeID + "/")
	var snaps []*RoomSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var snap RoomSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			snaps = append(snaps, &snap)
		}
		return nil
	})
	return snaps, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func roomKey(homeID, roomID string) []byte {
	return []byte(homeID + "/" + roomID)
}
