package domain

// Granularity is the temporal step of a variable's archive.
type Granularity string

// Supported granularities.
const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// Valid reports whether the granularity is one the archive publishes.
func (g Granularity) Valid() bool {
	return g == GranularityDaily || g == GranularityMonthly
}

// VariableDescriptor describes one archive variable. Supplied by the
// registry; the engine only consumes lookups.
type VariableDescriptor struct {
	Name        string      // Canonical name, equal to the remote path segment
	APICode     string      // Single-letter station API code, empty for monthly variables
	DisplayName string      // Human-readable name
	Units       string      // Units of measurement
	Granularity Granularity // daily or monthly
	FirstYear   int         // First year with published data
}

// IsZero reports whether the descriptor is unset.
func (v VariableDescriptor) IsZero() bool {
	return v.Name == ""
}

// Validate checks the descriptor is well formed. Normally guaranteed by
// the registry; the resolver re-checks defensively.
func (v VariableDescriptor) Validate() error {
	if v.Name == "" {
		return &ValidationError{
			Field:      "name",
			Value:      v.Name,
			Constraint: "non-empty",
			Message:    "variable name is required",
		}
	}
	if !v.Granularity.Valid() {
		return &ValidationError{
			Field:      "granularity",
			Value:      string(v.Granularity),
			Constraint: "daily|monthly",
			Message:    "unknown temporal granularity",
		}
	}
	if v.FirstYear <= 0 {
		return &ValidationError{
			Field:      "first_year",
			Value:      v.FirstYear,
			Constraint: "> 0",
			Message:    "first valid year is required",
		}
	}
	return nil
}
