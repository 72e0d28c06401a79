package config

// DomainConfig holds all configurable business rules and constraints.
// It is threaded explicitly into engine constructors so behavior is
// deterministic and testable rather than read from ambient state.
type DomainConfig struct {
	// Graph constraints
	AllowCycles      bool
	MaxTitleLength   int
	MinTitleLength   int
	MaxContentLength int
	MaxTagsPerMemory int
	MaxTagLength     int

	// Traversal limits
	MaxTraversalDepth int

	// Pagination
	DefaultPageLimit int
	MaxPageLimit     int

	// Migration
	ExportBatchSize        int
	VerificationSampleSize int
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		AllowCycles:      false,
		MaxTitleLength:   200,
		MinTitleLength:   1,
		MaxContentLength: 50000,
		MaxTagsPerMemory: 20,
		MaxTagLength:     50,

		MaxTraversalDepth: 10,

		DefaultPageLimit: 50,
		MaxPageLimit:     1000,

		ExportBatchSize:        1000,
		VerificationSampleSize: 10,
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.MaxTitleLength < c.MinTitleLength {
		return errInvalidTitleBounds
	}
	if c.DefaultPageLimit <= 0 || c.DefaultPageLimit > c.MaxPageLimit {
		return errInvalidPageBounds
	}
	if c.ExportBatchSize <= 0 {
		return errInvalidBatchSize
	}
	return nil
}
