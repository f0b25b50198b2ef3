package retry

// Variant names a retry policy for logs and metrics.
type Variant string

const (
	VariantStandard     Variant = "standard"
	VariantDebug        Variant = "debug"
	VariantFailIfLocked Variant = "fail_if_locked"
	VariantNoRetry      Variant = "no_retry"
)

// Policy parameterizes the shared retry skeleton.
type Policy struct {
	Variant Variant
	// Retry enables the OnError loop. Without it the first error is terminal.
	Retry bool
	// FailIfLocked returns database_locked immediately instead of waiting it out.
	FailIfLocked bool
	// Name labels the debug record; empty disables recording.
	Name string
	// Recorder receives the debug record. Nil falls back to the Runner's.
	Recorder Recorder
}

// Standard retries every error OnError accepts.
func Standard() Policy {
	return Policy{Variant: VariantStandard, Retry: true}
}

// Debug is Standard plus one Event per successful commit.
func Debug(name string) Policy {
	return Policy{Variant: VariantDebug, Retry: true, Name: name}
}

// FailIfLocked is Standard except database_locked is terminal.
func FailIfLocked() Policy {
	return Policy{Variant: VariantFailIfLocked, Retry: true, FailIfLocked: true}
}

// NoRetry runs the function and commit once.
func NoRetry() Policy {
	return Policy{Variant: VariantNoRetry}
}
