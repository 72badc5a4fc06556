package utils

import (
	"time"
)

// Request-scoped context keys
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	ActorKey     contextKey = "actor"
	EndpointKey  contextKey = "endpoint"
)

// Actor names used when no operator token is involved
const (
	SystemActor    = "system"
	AnonymousActor = "anonymous"
)

// Redis key prefixes
const (
	RuleCacheKeyPrefix   = "claim-router:rules:"
	AssignmentLockPrefix = "claim-router:lock:assignment:"
	RoundRobinKeyPrefix  = "claim-router:rr:rule:"
)

// Defaults shared by config and the components that read it
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultRuleCacheTTL    = 30 * time.Second
	DefaultLockTTL         = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)
