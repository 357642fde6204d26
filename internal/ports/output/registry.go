package output

import "github.com/gridflow/silogrid/internal/domain"

// VariableRegistry defines the secondary port for variable metadata.
// The engine requires exactly one capability from it: expanding a name
// or preset into concrete descriptors, failing with
// domain.ErrUnknownVariable for names it does not know.
type VariableRegistry interface {
	// Lookup expands a canonical name, API code or preset into
	// descriptors. Returns domain.ErrUnknownVariable for unknown names.
	Lookup(nameOrPreset string) ([]domain.VariableDescriptor, error)

	// All returns every descriptor the registry knows, for listings.
	All() []domain.VariableDescriptor
}
