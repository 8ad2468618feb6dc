package store

import (
	"errors"
	"time"

	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// RoomSnapshot is the last room status seen from the vendor, kept so a
// restart can serve known values before the first poll completes.
type RoomSnapshot struct {
	RoomID    string             `json:"room_id"`
	Status    netatmo.RoomStatus `json:"status"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store defines the persistence interface.
type Store interface {
	// Home topology
	SaveHome(home *netatmo.Home) error
	GetHome(id string) (*netatmo.Home, error)
	ListHomes() ([]*netatmo.Home, error)
	DeleteHome(id string) error

	// Room snapshots
	SaveRoomSnapshot(homeID string, snap *RoomSnapshot) error
	GetRoomSnapshot(homeID, roomID string) (*RoomSnapshot, error)
	ListRoomSnapshots(homeID string) ([]*RoomSnapshot, error)

	// Close the store
	Close() error
}
