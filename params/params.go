package params

import "time"

const (
	ServerBodyLimit    = 10 * 1024 * 1024 // 10 MiB
	ServerIdleTimeout  = 30 * time.Second
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second

	CSRFTokenLength     = 32               // random bytes per token (256 bits)
	CSRFTokenExpiration = 60 * time.Minute // default token time to live
	CSRFHeaderMinLength = 16               // minimum header value length accepted by the shape check

	PasswordMinLength       = 8
	PasswordMaxLength       = 128
	PasswordHistoryLimit    = 5                   // previous hashes remembered per user
	PasswordMaxAge          = 90 * 24 * time.Hour // password expiry
	PasswordMinValidScore   = 60                  // minimum complexity score for a valid password
	Argon2DefaultMemory     = 65536               // KiB
	Argon2DefaultTime       = 3                   // iterations
	Argon2DefaultThreads    = 4                   // parallel lanes
	Argon2SaltLength        = 16
	Argon2KeyLength         = 32
	GeneratedPasswordLength = 16

	MaxStringValueLength = 10000 // longest string leaf accepted in request payloads
	MaxPayloadDepth      = 10    // deepest object nesting accepted in request bodies

	SuspiciousIPWindow        = time.Minute      // sub-window for per-IP request counting
	SuspiciousIPMaxPerMinute  = 100              // requests per minute before an IP gets blocked
	SuspiciousIPBlockDuration = 15 * time.Minute // how long a flagged IP stays blocked

	ProgressiveStrikeWindow = time.Hour // how long rate-limit strikes keep shrinking an escalating rule's limit

	StateSweepInterval = 5 * time.Minute // expired token/counter/ip record cleanup period

	HealthCheckServerAddr = ":3001" // health check server address
)
