package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hrkit/secgate/internal/common"
	"github.com/hrkit/secgate/params"
	"golang.org/x/crypto/argon2"
)

const specialChars = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?"

const (
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	digitChars = "0123456789"
)

// commonPasswords are rejected as case-insensitive substrings.
var commonPasswords = []string{
	"password", "passw0rd", "123456", "123456789", "12345678", "12345",
	"qwerty", "abc123", "football", "monkey", "letmein", "welcome",
	"admin", "login", "master", "dragon", "iloveyou", "sunshine",
	"princess", "111111", "123123", "baseball", "shadow", "superman",
}

type Strength string

const (
	StrengthVeryWeak Strength = "very-weak"
	StrengthWeak     Strength = "weak"
	StrengthFair     Strength = "fair"
	StrengthGood     Strength = "good"
	StrengthStrong   Strength = "strong"
)

// Policy is the composition rule set enforced by ValidateComplexity.
type Policy struct {
	MinLength                 int
	MaxLength                 int
	RequireUppercase          bool
	RequireLowercase          bool
	RequireNumbers            bool
	RequireSpecialChars       bool
	MinSpecialChars           int
	PreventCommonPasswords    bool
	PreventUserInfoInPassword bool
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:                 params.PasswordMinLength,
		MaxLength:                 params.PasswordMaxLength,
		RequireUppercase:          true,
		RequireLowercase:          true,
		RequireNumbers:            true,
		RequireSpecialChars:       true,
		MinSpecialChars:           1,
		PreventCommonPasswords:    true,
		PreventUserInfoInPassword: true,
	}
}

// UserInfo carries the identity attributes a password must not contain.
type UserInfo struct {
	Email     string
	FirstName string
	LastName  string
}

// Result is the outcome of a complexity check. IsValid holds only when no
// rule was violated and the score reaches the validity threshold.
type Result struct {
	Score    int
	Strength Strength
	Feedback []string
	IsValid  bool
}

type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// Engine scores and validates passwords and provides argon2id hashing,
// history tracking and expiry computation.
type Engine struct {
	argon        Argon2Params
	historyLimit int
	maxAge       time.Duration
	nowFn        func() time.Time
}

type Config struct {
	Argon2       Argon2Params
	HistoryLimit int
	MaxAgeDays   int
}

func NewEngine(cfg Config) *Engine {
	if cfg.Argon2.Memory == 0 {
		cfg.Argon2.Memory = params.Argon2DefaultMemory
	}
	if cfg.Argon2.Time == 0 {
		cfg.Argon2.Time = params.Argon2DefaultTime
	}
	if cfg.Argon2.Parallelism == 0 {
		cfg.Argon2.Parallelism = params.Argon2DefaultThreads
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = params.PasswordHistoryLimit
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = int(params.PasswordMaxAge / (24 * time.Hour))
	}
	return &Engine{
		argon:        cfg.Argon2,
		historyLimit: cfg.HistoryLimit,
		maxAge:       time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		nowFn:        time.Now,
	}
}

func countClass(s, class string) int {
	n := 0
	for _, r := range s {
		if strings.ContainsRune(class, r) {
			n++
		}
	}
	return n
}

// ValidateComplexity scores password against policy (nil means defaults).
// The function is pure: identical inputs always produce identical results.
func (e *Engine) ValidateComplexity(password string, userInfo *UserInfo, policy *Policy) Result {
	rules := DefaultPolicy()
	if policy != nil {
		rules = *policy
	}

	var feedback []string
	score := 0

	if len(password) >= rules.MinLength {
		score += 20
	} else {
		feedback = append(feedback, fmt.Sprintf("Password must be at least %d characters long", rules.MinLength))
	}
	if len(password) > rules.MaxLength {
		feedback = append(feedback, fmt.Sprintf("Password must be no more than %d characters long", rules.MaxLength))
	}
	if len(password) >= 12 {
		score += 10
	}
	if len(password) >= 16 {
		score += 10
	}

	upperCount := countClass(password, upperChars)
	lowerCount := countClass(password, lowerChars)
	digitCount := countClass(password, digitChars)
	specialCount := countClass(password, specialChars)

	if upperCount > 0 {
		score += 15
	} else if rules.RequireUppercase {
		feedback = append(feedback, "Password must contain at least one uppercase letter")
	}
	if lowerCount > 0 {
		score += 15
	} else if rules.RequireLowercase {
		feedback = append(feedback, "Password must contain at least one lowercase letter")
	}
	if digitCount > 0 {
		score += 15
	} else if rules.RequireNumbers {
		feedback = append(feedback, "Password must contain at least one number")
	}
	if specialCount >= rules.MinSpecialChars {
		score += 15
	} else if rules.RequireSpecialChars {
		feedback = append(feedback, fmt.Sprintf("Password must contain at least %d special character(s)", rules.MinSpecialChars))
	}

	if upperCount >= 2 {
		score += 5
	}
	if digitCount >= 2 {
		score += 5
	}
	if specialCount >= 2 {
		score += 5
	}

	lowered := strings.ToLower(password)
	if rules.PreventCommonPasswords {
		for _, common := range commonPasswords {
			if strings.Contains(lowered, common) {
				feedback = append(feedback, "Password contains a commonly used password")
				score -= 20
				break
			}
		}
	}

	if rules.PreventUserInfoInPassword && userInfo != nil {
		if local := emailLocalPart(userInfo.Email); local != "" && strings.Contains(lowered, strings.ToLower(local)) {
			feedback = append(feedback, "Password must not contain your email address")
			score -= 15
		}
		for _, name := range []string{userInfo.FirstName, userInfo.LastName} {
			if name != "" && strings.Contains(lowered, strings.ToLower(name)) {
				feedback = append(feedback, "Password must not contain your name")
				score -= 10
			}
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Result{
		Score:    score,
		Strength: strengthLabel(score),
		Feedback: feedback,
		IsValid:  len(feedback) == 0 && score >= params.PasswordMinValidScore,
	}
}

func strengthLabel(score int) Strength {
	switch {
	case score < 20:
		return StrengthVeryWeak
	case score < 40:
		return StrengthWeak
	case score < 60:
		return StrengthFair
	case score < 80:
		return StrengthGood
	default:
		return StrengthStrong
	}
}

func emailLocalPart(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return email[:at]
}

// Hash derives an argon2id hash of password and encodes it in PHC format.
func (e *Engine) Hash(password string) (string, error) {
	salt := make([]byte, params.Argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, e.argon.Time, e.argon.Memory, e.argon.Parallelism, params.Argon2KeyLength)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, e.argon.Memory, e.argon.Time, e.argon.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return encoded, nil
}

// Verify reports whether password matches the encoded argon2id hash.
// Malformed hashes resolve to false, never an error to the caller.
func (e *Engine) Verify(encoded, password string) bool {
	salt, key, memory, iterations, parallelism, err := decodeHash(encoded)
	if err != nil {
		return false
	}
	derived := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1
}

func decodeHash(encoded string) (salt, key []byte, memory, iterations uint32, parallelism uint8, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, errors.New("malformed argon2id hash")
	}
	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, 0, 0, 0, err
	}
	if version != argon2.Version {
		return nil, nil, 0, 0, 0, errors.New("unsupported argon2 version")
	}
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return nil, nil, 0, 0, 0, err
	}
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, 0, 0, 0, err
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, 0, 0, 0, err
	}
	if len(key) == 0 {
		return nil, nil, 0, 0, 0, errors.New("empty argon2id key")
	}
	return salt, key, memory, iterations, parallelism, nil
}

// IsInHistory reports whether password matches any of the historical hashes.
func (e *Engine) IsInHistory(password string, history []string) bool {
	for _, hash := range history {
		if e.Verify(hash, password) {
			return true
		}
	}
	return false
}

// PushHistory prepends newHash and truncates to the configured limit.
func (e *Engine) PushHistory(newHash string, history []string) []string {
	updated := append([]string{newHash}, history...)
	if len(updated) > e.historyLimit {
		updated = updated[:e.historyLimit]
	}
	return updated
}

// IsExpired reports whether a password changed at changedAt has outlived the
// maximum age, or explicitExpiry when supplied. A zero changedAt with no
// explicit expiry never expires.
func (e *Engine) IsExpired(changedAt time.Time, explicitExpiry *time.Time) bool {
	now := e.nowFn()
	if explicitExpiry != nil {
		return now.After(*explicitExpiry)
	}
	if changedAt.IsZero() {
		return false
	}
	return now.After(changedAt.Add(e.maxAge))
}

// ExpiresAt returns the expiry of a password changed at changedAt.
func (e *Engine) ExpiresAt(changedAt time.Time) time.Time {
	if changedAt.IsZero() {
		changedAt = e.nowFn()
	}
	return changedAt.Add(e.maxAge)
}

// GenerateSecure produces a random password of the given length containing at
// least one character of every required class. Lengths below 4 are raised to 4.
func (e *Engine) GenerateSecure(length int) string {
	if length < 4 {
		length = 4
	}
	combined := upperChars + lowerChars + digitChars + specialChars
	chars := make([]byte, 0, length)
	chars = append(chars,
		upperChars[common.RandomInt(len(upperChars))],
		lowerChars[common.RandomInt(len(lowerChars))],
		digitChars[common.RandomInt(len(digitChars))],
		specialChars[common.RandomInt(len(specialChars))],
	)
	for len(chars) < length {
		chars = append(chars, combined[common.RandomInt(len(combined))])
	}
	for i := len(chars) - 1; i > 0; i-- {
		j := common.RandomInt(i + 1)
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars)
}
