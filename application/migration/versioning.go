package migration

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// Transformer upgrades an archive document one version step. Transformers
// work on the untyped document so older shapes can be reorganized before the
// typed decode.
type Transformer struct {
	FromVersion int
	ToVersion   int
	Description string
	Apply       func(document map[string]interface{}) (map[string]interface{}, error)
}

// transformers is the upgrade chain, one entry per consecutive version pair
var transformers = []Transformer{
	{
		FromVersion: 1,
		ToVersion:   2,
		Description: "rename nodes/edges payload to memories/relationships",
		Apply:       upgradeV1,
	},
}

// upgradeDocument walks the chain from the document's declared version up to
// FormatVersion. Unknown future versions are rejected; a gap in the chain is
// an integrity failure.
func upgradeDocument(document map[string]interface{}) (map[string]interface{}, error) {
	version, err := documentVersion(document)
	if err != nil {
		return nil, err
	}
	if version > FormatVersion {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf(
			"archive format version %d is newer than the supported version %d", version, FormatVersion))
	}
	if version < 1 {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf(
			"archive format version %d is not valid", version))
	}

	for version < FormatVersion {
		transformer := findTransformer(version)
		if transformer == nil {
			return nil, pkgerrors.NewIntegrityError(fmt.Sprintf(
				"no upgrade path from archive version %d", version))
		}
		document, err = transformer.Apply(document)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "upgrade archive v%d to v%d",
				transformer.FromVersion, transformer.ToVersion)
		}
		document["format_version"] = float64(transformer.ToVersion)
		version = transformer.ToVersion
	}
	return document, nil
}

func documentVersion(document map[string]interface{}) (int, error) {
	raw, ok := document["format_version"]
	if !ok {
		return 0, pkgerrors.NewValidationError("archive has no format_version field")
	}
	number, ok := raw.(float64)
	if !ok {
		return 0, pkgerrors.NewValidationError("archive format_version is not a number")
	}
	return int(number), nil
}

func findTransformer(fromVersion int) *Transformer {
	for i := range transformers {
		if transformers[i].FromVersion == fromVersion {
			return &transformers[i]
		}
	}
	return nil
}

// upgradeV1 renames the v1 payload keys (nodes, edges) and the matching
// integrity counters, then recomputes the checksum over the renamed payload
func upgradeV1(document map[string]interface{}) (map[string]interface{}, error) {
	payload, ok := document["payload"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("v1 archive has no payload object")
	}

	renamed := map[string]interface{}{
		"memories":      payload["nodes"],
		"relationships": payload["edges"],
	}
	if renamed["memories"] == nil {
		renamed["memories"] = []interface{}{}
	}
	if renamed["relationships"] == nil {
		renamed["relationships"] = []interface{}{}
	}
	document["payload"] = renamed

	integrity, ok := document["integrity"].(map[string]interface{})
	if !ok {
		integrity = map[string]interface{}{}
	}
	if count, ok := integrity["node_count"]; ok {
		integrity["memory_count"] = count
		delete(integrity, "node_count")
	}
	if count, ok := integrity["edge_count"]; ok {
		integrity["relationship_count"] = count
		delete(integrity, "edge_count")
	}

	// The rename changes the canonical form, so the v1 checksum no longer
	// applies. Recompute it through the typed Payload so the digest matches
	// what Validate computes after decode: a v1 document may carry fields the
	// typed marshal omits (explicit nulls, unknown keys), and hashing the raw
	// document would bake those in.
	raw, err := json.Marshal(renamed)
	if err != nil {
		return nil, err
	}
	var typedPayload Payload
	if err := json.Unmarshal(raw, &typedPayload); err != nil {
		return nil, fmt.Errorf("v1 payload does not decode: %w", err)
	}
	checksum, err := typedPayload.Checksum()
	if err != nil {
		return nil, err
	}
	integrity["checksum"] = checksum
	document["integrity"] = integrity

	return document, nil
}
