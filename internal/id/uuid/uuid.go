// Package uuid mints job and site identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// siteNamespace scopes name-derived site IDs.
var siteNamespace = uuid.MustParse("5b0c8f2e-3f7a-4c1d-9d55-6f1f2a7e9c41")

// Generator creates time-ordered job IDs and stable site IDs.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() Generator {
	return Generator{}
}

// JobID returns a UUIDv7 so jobs sort by creation time.
func (Generator) JobID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate job id: %w", err)
	}
	return id, nil
}

// SiteID derives a UUIDv5 from the site name so the same site keeps its ID
// across runs and stores.
func (Generator) SiteID(name string) uuid.UUID {
	return uuid.NewSHA1(siteNamespace, []byte(name))
}
