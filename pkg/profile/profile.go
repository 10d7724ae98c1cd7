// Package profile tracks MIDI-CI profiles: behavioral contracts a device
// declares and switches on or off, per destination channel or per port.
package profile

import (
	"errors"
	"fmt"
	"slices"
)

// IDSize is the number of bytes in a profile ID.
const IDSize = 5

// StandardBank marks a profile defined by the MIDI Association.
const StandardBank = 0x7E

// TargetPort addresses the whole port (function block) rather than a channel.
const TargetPort byte = 0x7F

// Profile errors.
var (
	ErrUnknownProfile = errors.New("unknown profile")
	ErrShortID        = errors.New("profile id truncated")
)

// ID identifies a profile. Equality is byte-for-byte.
type ID [IDSize]byte

// Standard builds a standard-defined profile ID.
func Standard(bank, number, version, level byte) ID {
	return ID{StandardBank, bank, number, version, level}
}

// ParseID reads an ID from the first IDSize bytes of b.
func ParseID(b []byte) (ID, error) {
	if len(b) < IDSize {
		return ID{}, fmt.Errorf("%w: %d bytes", ErrShortID, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// IsStandard reports whether the ID belongs to the standard bank.
func (id ID) IsStandard() bool {
	return id[0] == StandardBank
}

// String returns the ID as hex bytes.
func (id ID) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X", id[0], id[1], id[2], id[3], id[4])
}

// Entry is one profile and its state.
type Entry struct {
	ID      ID
	Target  byte // channel 0-15, or TargetPort
	Enabled bool
}

// Set is an ordered collection of profiles keyed by (ID, target).
// Insertion order is kept so replies list profiles in a stable order.
type Set struct {
	entries []Entry
}

// NewSet creates a set holding the given entries.
func NewSet(entries ...Entry) *Set {
	s := &Set{}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

func (s *Set) index(id ID, target byte) int {
	return slices.IndexFunc(s.entries, func(e Entry) bool {
		return e.ID == id && e.Target == target
	})
}

// Add inserts an entry or replaces the state of an existing one.
func (s *Set) Add(e Entry) {
	if i := s.index(e.ID, e.Target); i >= 0 {
		s.entries[i] = e
		return
	}
	s.entries = append(s.entries, e)
}

// Remove deletes an entry and reports whether it existed.
func (s *Set) Remove(id ID, target byte) bool {
	i := s.index(id, target)
	if i < 0 {
		return false
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	return true
}

// Get returns the entry for (id, target).
func (s *Set) Get(id ID, target byte) (Entry, bool) {
	if i := s.index(id, target); i >= 0 {
		return s.entries[i], true
	}
	return Entry{}, false
}

// Contains reports whether (id, target) is present.
func (s *Set) Contains(id ID, target byte) bool {
	return s.index(id, target) >= 0
}

// SetEnabled changes the state of a known profile. It returns
// ErrUnknownProfile for profiles not in the set.
func (s *Set) SetEnabled(id ID, target byte, enabled bool) error {
	i := s.index(id, target)
	if i < 0 {
		return fmt.Errorf("%w: %s target 0x%02X", ErrUnknownProfile, id, target)
	}
	s.entries[i].Enabled = enabled
	return nil
}

// Enabled returns the IDs enabled on target, in insertion order.
func (s *Set) Enabled(target byte) []ID {
	return s.filter(target, true)
}

// Disabled returns the IDs present but disabled on target.
func (s *Set) Disabled(target byte) []ID {
	return s.filter(target, false)
}

func (s *Set) filter(target byte, enabled bool) []ID {
	var out []ID
	for _, e := range s.entries {
		if e.Target == target && e.Enabled == enabled {
			out = append(out, e.ID)
		}
	}
	return out
}

// Merge records a peer's inquiry reply for target: every listed profile is
// added or updated with the reported state. Profiles not mentioned are kept.
func (s *Set) Merge(target byte, enabled, disabled []ID) {
	for _, id := range enabled {
		s.Add(Entry{ID: id, Target: target, Enabled: true})
	}
	for _, id := range disabled {
		s.Add(Entry{ID: id, Target: target, Enabled: false})
	}
}

// Entries returns a copy of all entries.
func (s *Set) Entries() []Entry {
	return slices.Clone(s.entries)
}

// Targets returns the distinct targets present, in first-seen order.
func (s *Set) Targets() []byte {
	var out []byte
	for _, e := range s.entries {
		if !slices.Contains(out, e.Target) {
			out = append(out, e.Target)
		}
	}
	return out
}

// Len returns the number of entries.
func (s *Set) Len() int {
	return len(s.entries)
}
