// Package memory is an in-process IStorage used by tests and by the
// "memory" storage driver. Every conditional update is evaluated under a
// single lock, so it has the same race outcome as the guarded SQL.
package memory

import (
	"sync"

	"roadassist/storage"
)

type Store struct {
	mu sync.Mutex

	users         map[string]*principalRow
	bookings      map[string]*bookingRow
	notifications map[string]*notificationRow
	channels      map[string]*channelRow
	messages      map[string][]*messageRow
	seq           int64
	insertOrder   int64
}

func New() *Store {
	return &Store{
		users:         make(map[string]*principalRow),
		bookings:      make(map[string]*bookingRow),
		notifications: make(map[string]*notificationRow),
		channels:      make(map[string]*channelRow),
		messages:      make(map[string][]*messageRow),
	}
}

func (s *Store) nextOrder() int64 {
	s.insertOrder++
	return s.insertOrder
}

func (s *Store) Close() {}

func (s *Store) User() storage.IUserStorage                 { return userRepo{s} }
func (s *Store) Booking() storage.IBookingStorage           { return bookingRepo{s} }
func (s *Store) Notification() storage.INotificationStorage { return notificationRepo{s} }
func (s *Store) Chat() storage.IChatStorage                 { return chatRepo{s} }
func (s *Store) Location() storage.ILocationIndex           { return locationRepo{s} }

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
