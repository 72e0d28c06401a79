package migration

// Options tunes a migration run
type Options struct {
	// DryRun stops after export validation and reports what would move.
	DryRun bool
	// SkipDuplicates ignores records the target already holds instead of
	// overwriting them.
	SkipDuplicates bool
	// Verify runs count and sampled-content checks after import.
	Verify bool
	// RollbackOnFailure clears the target when import or verification fails.
	RollbackOnFailure bool
	// BatchSize bounds each export/import batch. Defaults to 1000.
	BatchSize int
	// SampleSize bounds the content verification sample. Defaults to 10.
	SampleSize int
}

// DefaultOptions returns the standard migration settings
func DefaultOptions() Options {
	return Options{
		Verify:            true,
		RollbackOnFailure: true,
		BatchSize:         1000,
		SampleSize:        10,
	}
}

func (o Options) normalized() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.SampleSize <= 0 {
		o.SampleSize = 10
	}
	return o
}
