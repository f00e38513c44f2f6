package policy

import (
	"bytes"
	"context"

	"github.com/rs/zerolog"

	"github.com/meshgate/meshgate/pkg/engine"
)

// API is the narrow slice of the mesh provider the patch engine needs. The
// full provider satisfies it.
type API interface {
	// GetPolicy reads the current shared policy document.
	GetPolicy(ctx context.Context) (Document, error)

	// ValidatePolicy asks the provider to dry-run validate a candidate
	// document without committing it.
	ValidatePolicy(ctx context.Context, doc Document) error

	// SetPolicy commits a document.
	SetPolicy(ctx context.Context, doc Document) error
}

// Engine performs the read, patch, validate, commit cycle against the shared
// policy document. It is optimistic: there is no concurrency token, so a
// concurrent writer can win the race (documented in DESIGN.md).
type Engine struct {
	api    API
	logger zerolog.Logger
}

// NewEngine creates a patch engine over the given mesh API.
func NewEngine(api API, logger zerolog.Logger) *Engine {
	return &Engine{
		api:    api,
		logger: logger.With().Str("component", "policy").Logger(),
	}
}

// Apply reads the live document, applies the additive patches in order,
// asserts the additive invariant, remote-validates, and commits. It reports
// whether a write happened: when every patch is a no-op nothing is
// validated or written.
func (e *Engine) Apply(ctx context.Context, patches ...PatchFunc) (bool, error) {
	return e.run(ctx, true, patches)
}

// Revert is the rollback path: it applies remove patches, which are allowed
// to shrink the substructures meshgate owns entries in, so the additive
// assertion is skipped. Everything else matches Apply.
func (e *Engine) Revert(ctx context.Context, patches ...PatchFunc) (bool, error) {
	return e.run(ctx, false, patches)
}

func (e *Engine) run(ctx context.Context, additive bool, patches []PatchFunc) (bool, error) {
	original, err := e.api.GetPolicy(ctx)
	if err != nil {
		return false, err
	}

	patched := original
	for _, patch := range patches {
		patched, err = patch(patched)
		if err != nil {
			return false, err
		}
	}

	origBytes, err := original.Encode()
	if err != nil {
		return false, err
	}
	patchedBytes, err := patched.Encode()
	if err != nil {
		return false, err
	}
	if bytes.Equal(origBytes, patchedBytes) {
		e.logger.Debug().Msg("policy already up to date, skipping write")
		return false, nil
	}

	if additive {
		AssertAdditive(original, patched)
	}

	if err := e.api.ValidatePolicy(ctx, patched); err != nil {
		rejected := engine.NewRejectedError("mesh provider rejected patched policy", err).
			WithCode(engine.ErrCodePolicyRejected).
			WithOperation("validate-policy")
		if engine.IsDenied(err) {
			rejected.WithHint("the mesh API key cannot write the policy document; regenerate it with policy write scope")
		} else {
			rejected.WithHint("the patched policy failed the provider's validation; inspect the reported reason above")
		}
		return false, rejected
	}

	if err := e.api.SetPolicy(ctx, patched); err != nil {
		return false, err
	}
	e.logger.Info().Int("patches", len(patches)).Msg("policy document updated")
	return true, nil
}
