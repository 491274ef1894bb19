// Package codec reversibly encodes assets to and from the opaque payload
// bytes stored on a listing row. The wire form is a versioned JSON envelope;
// Decode(Encode(a)) == a for every representable asset.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/avelhart/tradehall/internal/domain"
)

// payloadVersion is bumped only for incompatible envelope changes. Decode
// rejects any other version as corrupt.
const payloadVersion = 1

type envelope struct {
	Version int       `json:"v"`
	Asset   assetWire `json:"asset"`
}

type assetWire struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name,omitempty"`
	Quantity   int               `json:"qty"`
	Attributes map[string]string `json:"attrs,omitempty"`
}

// Encode serializes an asset into its storable payload form.
func Encode(a domain.Asset) ([]byte, error) {
	env := envelope{
		Version: payloadVersion,
		Asset: assetWire{
			ID:         a.ID.String(),
			Kind:       a.Kind,
			Name:       a.Name,
			Quantity:   a.Quantity,
			Attributes: a.Attributes,
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("codec: encode asset %s: %w", a.ID, err)
	}
	return data, nil
}

// Decode reverses Encode. Malformed input fails with domain.ErrCorruptPayload;
// callers must treat that as terminal for the row (data corruption, not a
// transient failure).
func Decode(payload []byte) (domain.Asset, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Asset{}, fmt.Errorf("codec: decode: %v: %w", err, domain.ErrCorruptPayload)
	}
	if env.Version != payloadVersion {
		return domain.Asset{}, fmt.Errorf("codec: decode: unsupported payload version %d: %w",
			env.Version, domain.ErrCorruptPayload)
	}

	id, err := uuid.Parse(env.Asset.ID)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("codec: decode: bad asset id %q: %w",
			env.Asset.ID, domain.ErrCorruptPayload)
	}

	a := domain.Asset{
		ID:         id,
		Kind:       env.Asset.Kind,
		Name:       env.Asset.Name,
		Quantity:   env.Asset.Quantity,
		Attributes: env.Asset.Attributes,
	}
	if a.Empty() {
		return domain.Asset{}, fmt.Errorf("codec: decode: empty asset: %w", domain.ErrCorruptPayload)
	}
	return a, nil
}
