package property

import (
	"encoding/json"
	"fmt"
)

// Standard resource names.
const (
	ResourceList = "ResourceList"
	DeviceInfo   = "DeviceInfo"
)

// DeviceInfoBody is the JSON body of the DeviceInfo resource. Numeric IDs
// are septet arrays, least significant first.
type DeviceInfoBody struct {
	ManufacturerID []int  `json:"manufacturerId"`
	FamilyID       []int  `json:"familyId"`
	ModelID        []int  `json:"modelId"`
	VersionID      []int  `json:"versionId"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	Family         string `json:"family,omitempty"`
	Model          string `json:"model,omitempty"`
	Version        string `json:"version,omitempty"`
	SerialNumber   string `json:"serialNumber,omitempty"`
}

// Septets splits v into n 7-bit values, least significant first.
func Septets(v uint32, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = int(v>>(7*i)) & 0x7F
	}
	return out
}

// FromSeptets reverses Septets.
func FromSeptets(s []int) uint32 {
	var v uint32
	for i := len(s) - 1; i >= 0; i-- {
		v = v<<7 | uint32(s[i]&0x7F)
	}
	return v
}

// StandardResources serves ResourceList and DeviceInfo in front of an
// application Service. The wrapped service may be nil.
type StandardResources struct {
	Service Service
	Device  DeviceInfoBody
}

// NewStandardResources wraps svc.
func NewStandardResources(svc Service, device DeviceInfoBody) *StandardResources {
	return &StandardResources{Service: svc, Device: device}
}

// Resources implements Service. ResourceList does not list itself.
func (s *StandardResources) Resources() []ResourceInfo {
	out := []ResourceInfo{{Resource: DeviceInfo, CanGet: true, CanSet: CanSetNone}}
	if s.Service != nil {
		for _, r := range s.Service.Resources() {
			if r.Resource == ResourceList || r.Resource == DeviceInfo {
				continue
			}
			out = append(out, r)
		}
	}
	return out
}

// Get implements Service.
func (s *StandardResources) Get(resource, resID string) ([]byte, error) {
	switch resource {
	case ResourceList:
		return json.Marshal(s.Resources())
	case DeviceInfo:
		return json.Marshal(s.Device)
	}
	if s.Service == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	return s.Service.Get(resource, resID)
}

// Set implements Service.
func (s *StandardResources) Set(resource, resID string, body []byte) error {
	switch resource {
	case ResourceList, DeviceInfo:
		return fmt.Errorf("%w: %s", ErrReadOnly, resource)
	}
	if s.Service == nil {
		return fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	return s.Service.Set(resource, resID, body)
}

// Compile-time interface satisfaction check.
var _ Service = (*StandardResources)(nil)
