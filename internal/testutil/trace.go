package testutil

// FixedTraceGenerator returns the same admission trace token every time, so
// command output can be compared against golden files.
//
// Thread-safety: FixedTraceGenerator is stateless and safe for concurrent use.
type FixedTraceGenerator struct {
	token string
}

// NewFixedTraceGenerator creates a generator for token. An empty token
// becomes "test-trace-default".
func NewFixedTraceGenerator(token string) *FixedTraceGenerator {
	if token == "" {
		token = "test-trace-default"
	}
	return &FixedTraceGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedTraceGenerator) Generate() string {
	return g.token
}
