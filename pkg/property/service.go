package property

import (
	"fmt"
	"sort"
	"sync"
)

// Set capability values for ResourceInfo.CanSet.
const (
	CanSetNone    = "none"
	CanSetFull    = "full"
	CanSetPartial = "partial"
)

// ResourceInfo describes one resource in the ResourceList.
type ResourceInfo struct {
	Resource     string   `json:"resource"`
	CanGet       bool     `json:"canGet"`
	CanSet       string   `json:"canSet,omitempty"`
	CanSubscribe bool     `json:"canSubscribe,omitempty"`
	RequireResID bool     `json:"requireResId,omitempty"`
	MediaTypes   []string `json:"mediaType,omitempty"`
	Encodings    []string `json:"encodings,omitempty"`
}

// Service is the hosting application's property provider.
type Service interface {
	// Resources lists the resources served.
	Resources() []ResourceInfo

	// Get returns the body of a resource, or ErrUnknownResource.
	Get(resource, resID string) ([]byte, error)

	// Set replaces the body of a resource. It returns ErrUnknownResource
	// or ErrReadOnly when the resource cannot be written.
	Set(resource, resID string, body []byte) error
}

// MemoryService is a Service backed by in-memory bodies.
type MemoryService struct {
	mu        sync.RWMutex
	resources map[string]ResourceInfo
	bodies    map[string]map[string][]byte
}

// NewMemoryService creates an empty service.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		resources: make(map[string]ResourceInfo),
		bodies:    make(map[string]map[string][]byte),
	}
}

// Add registers a resource with its initial body under the empty resID.
func (m *MemoryService) Add(info ResourceInfo, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info.CanSet == "" {
		info.CanSet = CanSetNone
	}
	m.resources[info.Resource] = info
	if m.bodies[info.Resource] == nil {
		m.bodies[info.Resource] = make(map[string][]byte)
	}
	if body != nil {
		m.bodies[info.Resource][""] = append([]byte(nil), body...)
	}
}

// Resources implements Service.
func (m *MemoryService) Resources() []ResourceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ResourceInfo, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// Get implements Service.
func (m *MemoryService) Get(resource, resID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bodies, ok := m.bodies[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	body, ok := bodies[resID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownResource, resource, resID)
	}
	return append([]byte(nil), body...), nil
}

// Set implements Service.
func (m *MemoryService) Set(resource, resID string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.resources[resource]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	if info.CanSet == CanSetNone {
		return fmt.Errorf("%w: %s", ErrReadOnly, resource)
	}
	m.bodies[resource][resID] = append([]byte(nil), body...)
	return nil
}

// Compile-time interface satisfaction check.
var _ Service = (*MemoryService)(nil)
