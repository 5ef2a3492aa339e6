// Package totp derives and checks the rotating room access codes (RFC 6238).
package totp

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// CodeLength is the fixed number of digits in every room code.
const CodeLength = 6

// Config controls the admission window.
type Config struct {
	Period time.Duration
	Skew   uint
}

// DefaultConfig is a 30 second step with one step of tolerance.
func DefaultConfig() Config {
	return Config{Period: 30 * time.Second, Skew: 1}
}

// Engine derives and verifies six digit codes for base32 secrets.
type Engine struct {
	period uint
	skew   uint
}

// NewEngine creates an engine, filling a missing period from DefaultConfig.
func NewEngine(cfg Config) *Engine {
	if cfg.Period < time.Second {
		cfg.Period = DefaultConfig().Period
	}
	return &Engine{
		period: uint(cfg.Period / time.Second),
		skew:   cfg.Skew,
	}
}

// Interval returns the step length in seconds.
func (e *Engine) Interval() int {
	return int(e.period)
}

// ValidFormat reports whether code is exactly six ASCII digits.
func (e *Engine) ValidFormat(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Derive returns the code for secret at the given instant.
func (e *Engine) Derive(secret []byte, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(string(secret), at, e.opts())
	if err != nil {
		return "", fmt.Errorf("failed to derive code: %w", err)
	}
	return code, nil
}

// Verify accepts code if it matches the step of at or one within the skew.
// Malformed input is rejected before any HMAC is computed.
func (e *Engine) Verify(secret []byte, code string, at time.Time) bool {
	if !e.ValidFormat(code) {
		return false
	}
	ok, err := totp.ValidateCustom(code, string(secret), at, e.opts())
	return err == nil && ok
}

// StepStart returns the beginning of the step containing at.
func (e *Engine) StepStart(at time.Time) time.Time {
	step := int64(e.period)
	return time.Unix(at.Unix()-at.Unix()%step, 0).UTC()
}

func (e *Engine) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    e.period,
		Skew:      e.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
