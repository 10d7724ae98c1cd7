package profile

import (
	"fmt"
)

// Service is the hosting application's profile provider. A responder asks it
// which profiles exist and for profile-specific details.
type Service interface {
	// Profiles returns the profiles the device implements and their
	// initial state.
	Profiles() []Entry

	// Details returns the inquiry target data for a profile, or
	// ErrUnknownProfile.
	Details(id ID, target byte) ([]byte, error)
}

// MemoryService is a Service backed by in-memory tables.
type MemoryService struct {
	entries []Entry
	details map[detailsKey][]byte
}

type detailsKey struct {
	id     ID
	target byte
}

// NewMemoryService creates a service declaring the given profiles.
func NewMemoryService(entries ...Entry) *MemoryService {
	return &MemoryService{
		entries: entries,
		details: make(map[detailsKey][]byte),
	}
}

// SetDetails registers details data returned for (id, target).
func (m *MemoryService) SetDetails(id ID, target byte, data []byte) {
	m.details[detailsKey{id, target}] = data
}

// Profiles implements Service.
func (m *MemoryService) Profiles() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Details implements Service.
func (m *MemoryService) Details(id ID, target byte) ([]byte, error) {
	if data, ok := m.details[detailsKey{id, target}]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
}

// Compile-time interface satisfaction check.
var _ Service = (*MemoryService)(nil)
