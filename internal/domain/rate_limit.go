package domain

import (
	"fmt"
	"time"
)

type RateLimitRule struct {
	Scope  string
	Limit  int
	Window time.Duration
}

const (
	RateLimitScopeSend = "send"
	RateLimitScopeIP   = "ip"
)

// Key is the counter key for subject under this rule.
func (r RateLimitRule) Key(subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", r.Scope, subject)
}
