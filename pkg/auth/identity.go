package auth

import "chatrelay/pkg/config"

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting. Kept here so limiter.go and
// gateway.go share the type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	// AllowUnauth disables API-key checks; for local development only.
	AllowUnauth  bool
	BackendKeys  map[string]struct{}
	FrontendKeys map[string]struct{}
}

// FromConfig builds a SecConfig from the loaded configuration plus the
// runtime key sets (which env overrides may have extended).
func FromConfig(c *config.Config) SecConfig {
	return SecConfig{
		AllowedOrigins: c.Security.CORS.AllowedOrigins,
		RPS:            c.Security.RateLimit.RPS,
		Burst:          c.Security.RateLimit.Burst,
		AllowUnauth:    c.Security.APIKeys.AllowUnauth,
		BackendKeys:    config.GetBackendKeys(),
		FrontendKeys:   config.GetFrontendKeys(),
	}
}
