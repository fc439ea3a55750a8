package r5

import (
	"encoding/json"
	"time"
)

// Bundle types
const (
	BundleCollection = "collection"
	BundleSearchSet  = "searchset"
)

// Bundle represents a FHIR R5 Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry holds one resource of a bundle.
type BundleEntry struct {
	FullURL  string `json:"fullUrl,omitempty"`
	Resource any    `json:"resource"`
}

// NewBundle creates an empty bundle of the given type
func NewBundle(id, bundleType string, timestamp time.Time) *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		ID:           id,
		Type:         bundleType,
		Timestamp:    &timestamp,
	}
}

// Add appends a resource under its relative URL, e.g. "Patient/30111222"
func (b *Bundle) Add(resourceType, id string, resource any) {
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  resourceType + "/" + id,
		Resource: resource,
	})
}

// Count returns the number of entries of resourceType
func (b *Bundle) Count(resourceType string) int {
	n := 0
	for _, e := range b.Entry {
		if resourceTypeOf(e.Resource) == resourceType {
			n++
		}
	}
	return n
}

func resourceTypeOf(resource any) string {
	switch r := resource.(type) {
	case *Patient:
		return r.ResourceType
	case *Practitioner:
		return r.ResourceType
	case *Appointment:
		return r.ResourceType
	case *MedicationRequest:
		return r.ResourceType
	case json.RawMessage:
		var head struct {
			ResourceType string `json:"resourceType"`
		}
		if json.Unmarshal(r, &head) == nil {
			return head.ResourceType
		}
	}
	return ""
}

// UnmarshalJSON keeps entry resources as raw JSON so callers can decode them by type
func (e *BundleEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		FullURL  string          `json:"fullUrl"`
		Resource json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.FullURL = raw.FullURL
	e.Resource = raw.Resource
	return nil
}
