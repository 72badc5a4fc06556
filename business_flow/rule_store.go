package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
	"github.com/redis/go-redis/v9"
)

// RuleStore serves the active rule set of a company
type RuleStore interface {
	ActiveRules(ctx context.Context, companyID uint) ([]*models.Rule, error)
	Invalidate(ctx context.Context, companyID uint)
}

// CachedRuleStore reads rules through a Redis cache with a short TTL.
// Cache failures degrade to direct database reads.
type CachedRuleStore struct {
	ruleRepo repository.RuleRepository
	rc       redis.Cmdable
	ttl      time.Duration
	logger   *slog.Logger
}

// NewCachedRuleStore creates a rule store; rc may be nil to disable caching
func NewCachedRuleStore(ruleRepo repository.RuleRepository, rc redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedRuleStore {
	if ttl <= 0 {
		ttl = utils.DefaultRuleCacheTTL
	}
	return &CachedRuleStore{ruleRepo: ruleRepo, rc: rc, ttl: ttl, logger: logger}
}

func ruleCacheKey(companyID uint) string {
	return fmt.Sprintf("%s%d", utils.RuleCacheKeyPrefix, companyID)
}

// ActiveRules returns the company's active rules with their role links
func (s *CachedRuleStore) ActiveRules(ctx context.Context, companyID uint) ([]*models.Rule, error) {
	key := ruleCacheKey(companyID)

	if s.rc != nil {
		bs, err := s.rc.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var cached []*models.Rule
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
			s.logger.Warn("Discarding undecodable rule cache entry", "company_id", companyID)
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("Rule cache read failed", "company_id", companyID, "error", err)
		}
	}

	rules, err := s.ruleRepo.ByCompany(ctx, companyID, true)
	if err != nil {
		return nil, transientError("RULE_STORE_UNAVAILABLE", "Failed to load routing rules", err)
	}

	if s.rc != nil {
		if bs, err := json.Marshal(rules); err == nil {
			if err := s.rc.Set(ctx, key, bs, s.ttl).Err(); err != nil {
				s.logger.Warn("Rule cache write failed", "company_id", companyID, "error", err)
			}
		}
	}

	return rules, nil
}

// Invalidate drops the cached rule set of a company
func (s *CachedRuleStore) Invalidate(ctx context.Context, companyID uint) {
	if s.rc == nil {
		return
	}
	if err := s.rc.Del(ctx, ruleCacheKey(companyID)).Err(); err != nil {
		s.logger.Error("Rule cache invalidation failed", "company_id", companyID, "error", err)
	}
}
