package catalogversion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CatalogVersion is one immutable row of the version ledger.
type CatalogVersion struct {
	ID               uuid.UUID       `json:"id"`
	VersionNumber    int             `json:"version_number"`
	HashSHA256       string          `json:"hash_sha256"`
	ItemCount        int             `json:"item_count"`
	RangeCount       int             `json:"range_count"`
	Snapshot         json.RawMessage `json:"snapshot,omitempty"`
	DiffFromPrevious *Diff           `json:"diff_from_previous,omitempty"`
	PreviousVersion  *int            `json:"previous_version,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// DecodeSnapshot parses the stored snapshot. Versions listed without their
// snapshot return an error.
func (v *CatalogVersion) DecodeSnapshot() (*Snapshot, error) {
	if len(v.Snapshot) == 0 {
		return nil, fmt.Errorf("version %d has no snapshot loaded", v.VersionNumber)
	}
	var s Snapshot
	if err := json.Unmarshal(v.Snapshot, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot of version %d: %w", v.VersionNumber, err)
	}
	return &s, nil
}

// CommitResult is the outcome of a versioning run.
type CommitResult struct {
	// Changed is false when the catalog hash equals the latest version's.
	Changed   bool   `json:"changed"`
	Committed bool   `json:"committed"`
	Version   int    `json:"version"`
	Hash      string `json:"hash"`
	Items     int    `json:"item_count"`
	Ranges    int    `json:"range_count"`
	Diff      *Diff  `json:"diff,omitempty"`
}
