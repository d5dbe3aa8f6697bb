// Package stage defines the generation stages of an AIGE pipeline run and
// their typed parameters.
package stage

import (
	"errors"
	"fmt"
	"strings"
)

// Static errors for stage handling.
var (
	// ErrUnknownKind is returned when a stage name does not match any known stage.
	ErrUnknownKind = errors.New("stage: unknown stage kind")
	// ErrInvalidParams is returned when params fail validation.
	ErrInvalidParams = errors.New("stage: invalid params")
	// ErrKindMismatch is returned when params belong to a different stage.
	ErrKindMismatch = errors.New("stage: params do not match stage kind")
)

// Kind identifies one stage of the pipeline.
type Kind string

// Pipeline stages in their usual order.
const (
	KindFinetune   Kind = "finetune"
	KindAvatar     Kind = "avatar"
	KindBackground Kind = "background"
	KindOverlay    Kind = "overlay"
	KindUpscale    Kind = "upscale"
	KindVideo      Kind = "video"
	KindReframe    Kind = "reframe"
	KindRefine     Kind = "refine"
	KindFluxUltra  Kind = "flux_ultra"
)

var allKinds = []Kind{
	KindFinetune,
	KindAvatar,
	KindBackground,
	KindOverlay,
	KindUpscale,
	KindVideo,
	KindReframe,
	KindRefine,
	KindFluxUltra,
}

// All returns every stage kind.
func All() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind converts a stage name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// IsValid returns true if the kind is a known stage.
func (k Kind) IsValid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// NeedsURLs reports whether a presigned URL pair must be allocated before
// submitting this stage. Finetune produces a model id, and flux_ultra
// images are hosted by the generator itself.
func (k Kind) NeedsURLs() bool {
	return k != KindFinetune && k != KindFluxUltra
}

// CreatesRun reports whether the stage is submitted with a create call.
// All other media stages update the run in place under its avatar id.
func (k Kind) CreatesRun() bool {
	return k == KindAvatar
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}
