package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// FormatVersion is the archive version this build writes. Older versions
// load through the transformer chain; newer ones are rejected.
const FormatVersion = 2

// Archive is the self-describing backup document
type Archive struct {
	FormatVersion int       `json:"format_version"`
	Engine        string    `json:"engine"`
	CreatedAt     time.Time `json:"created_at"`
	Integrity     Integrity `json:"integrity"`
	Payload       Payload   `json:"payload"`
}

// Integrity carries the payload checksum and expected counts
type Integrity struct {
	Checksum          string `json:"checksum"`
	MemoryCount       int64  `json:"memory_count"`
	RelationshipCount int64  `json:"relationship_count"`
}

// Payload holds the exported records
type Payload struct {
	Memories      []*entities.Memory       `json:"memories"`
	Relationships []*entities.Relationship `json:"relationships"`
}

// Checksum computes SHA-256 over the canonical JSON form of the payload:
// object keys sorted, no incidental whitespace. Canonical form survives a
// round trip through any compliant JSON writer.
func (p Payload) Checksum() (string, error) {
	canonical, err := canonicalJSON(p)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// canonicalJSON re-marshals through an untyped map so keys come out sorted
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "canonical encode")
	}
	var untyped interface{}
	if err := json.Unmarshal(raw, &untyped); err != nil {
		return nil, pkgerrors.Wrap(err, "canonical decode")
	}
	canonical, err := json.Marshal(untyped)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "canonical encode")
	}
	return canonical, nil
}

// Export streams every record out of the store in batches and seals the
// result with counts and a checksum
func Export(ctx context.Context, store abstractions.GraphStore, batchSize int) (*Archive, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var payload Payload
	for offset := 0; ; offset += batchSize {
		page, err := store.ListMemories(ctx, abstractions.MemoryFilter{},
			common.PageRequest{Limit: batchSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		payload.Memories = append(payload.Memories, page.Items...)
		if !page.PageInfo.HasMore {
			break
		}
	}
	for offset := 0; ; offset += batchSize {
		page, err := store.ListRelationships(ctx, abstractions.RelationshipFilter{},
			common.PageRequest{Limit: batchSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		payload.Relationships = append(payload.Relationships, page.Items...)
		if !page.PageInfo.HasMore {
			break
		}
	}

	checksum, err := payload.Checksum()
	if err != nil {
		return nil, err
	}

	health, err := store.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}

	return &Archive{
		FormatVersion: FormatVersion,
		Engine:        health.Engine,
		CreatedAt:     time.Now().UTC(),
		Integrity: Integrity{
			Checksum:          checksum,
			MemoryCount:       int64(len(payload.Memories)),
			RelationshipCount: int64(len(payload.Relationships)),
		},
		Payload: payload,
	}, nil
}

// Validate checks the archive against its own integrity block: counts,
// checksum, and referential closure of relationship endpoints
func (a *Archive) Validate() error {
	if int64(len(a.Payload.Memories)) != a.Integrity.MemoryCount {
		return pkgerrors.NewIntegrityError(fmt.Sprintf(
			"memory count mismatch: archive declares %d, payload holds %d",
			a.Integrity.MemoryCount, len(a.Payload.Memories)))
	}
	if int64(len(a.Payload.Relationships)) != a.Integrity.RelationshipCount {
		return pkgerrors.NewIntegrityError(fmt.Sprintf(
			"relationship count mismatch: archive declares %d, payload holds %d",
			a.Integrity.RelationshipCount, len(a.Payload.Relationships)))
	}

	checksum, err := a.Payload.Checksum()
	if err != nil {
		return err
	}
	if checksum != a.Integrity.Checksum {
		return pkgerrors.NewIntegrityError("payload checksum does not match the archive integrity block")
	}

	known := make(map[string]bool, len(a.Payload.Memories))
	for _, memory := range a.Payload.Memories {
		known[memory.ID.String()] = true
	}
	for _, rel := range a.Payload.Relationships {
		if !known[rel.FromID.String()] {
			return pkgerrors.NewIntegrityError(fmt.Sprintf(
				"relationship %s references missing memory %s", rel.ID, rel.FromID))
		}
		if !known[rel.ToID.String()] {
			return pkgerrors.NewIntegrityError(fmt.Sprintf(
				"relationship %s references missing memory %s", rel.ID, rel.ToID))
		}
	}
	return nil
}

// Write serializes the archive
func (a *Archive) Write(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(a); err != nil {
		return pkgerrors.Wrap(err, "write archive")
	}
	return nil
}

// Load reads an archive, upgrading older format versions through the
// transformer chain and validating integrity afterwards
func Load(r io.Reader) (*Archive, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read archive")
	}

	var document map[string]interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, pkgerrors.NewValidationError("archive is not valid JSON")
	}

	document, err = upgradeDocument(document)
	if err != nil {
		return nil, err
	}

	upgraded, err := json.Marshal(document)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "re-encode archive")
	}
	var archive Archive
	if err := json.Unmarshal(upgraded, &archive); err != nil {
		return nil, pkgerrors.NewValidationError("archive does not match the expected structure")
	}

	if err := archive.Validate(); err != nil {
		return nil, err
	}
	return &archive, nil
}
