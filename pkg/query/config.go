package query

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyKind selects when a query is allowed to fetch.
type PolicyKind string

const (
	// PolicyAutomatic always fetches on schedule and on invalidation.
	PolicyAutomatic PolicyKind = "automatic"
	// PolicySubscription only fetches while at least one subscriber is attached.
	PolicySubscription PolicyKind = "subscription"
)

// Policy is a query's execution policy.
type Policy struct {
	Kind PolicyKind `yaml:"policy"`
	// InitialSubscribers seeds the subscriber count for PolicySubscription.
	InitialSubscribers int `yaml:"initial_subscribers"`
}

// Automatic returns the always-fetch policy.
func Automatic() Policy {
	return Policy{Kind: PolicyAutomatic}
}

// SubscriptionBased returns a policy gated on the active subscriber count.
func SubscriptionBased(initialCount int) Policy {
	if initialCount < 0 {
		initialCount = 0
	}
	return Policy{Kind: PolicySubscription, InitialSubscribers: initialCount}
}

// QueryConfig holds the per-query fetch, retry and refetch settings.
type QueryConfig struct {
	// RefetchInterval enables periodic refetching after a successful fetch. Zero disables it.
	RefetchInterval time.Duration `yaml:"refetch_interval"`
	// RetryLimit is the number of automatic retries after consecutive failures.
	RetryLimit uint `yaml:"retry_limit"`
	// RetryDelay is the fixed delay before each retry.
	RetryDelay time.Duration `yaml:"retry_delay"`
	Policy     Policy        `yaml:",inline"`
	// Scheduler creates the retry and refetch timers. Nil means RealScheduler.
	Scheduler Scheduler `yaml:"-"`
}

// DefaultQueryConfig returns the settings used when NewQuery is given a nil config.
func DefaultQueryConfig() *QueryConfig {
	return &QueryConfig{
		RetryLimit: 3,
		RetryDelay: 1 * time.Second,
		Policy:     Automatic(),
	}
}

// ParseQueryConfig decodes YAML over DefaultQueryConfig, e.g.
//
//	refetch_interval: 30s
//	retry_limit: 2
//	retry_delay: 500ms
//	policy: subscription
//	initial_subscribers: 0
func ParseQueryConfig(data []byte) (*QueryConfig, error) {
	cfg := DefaultQueryConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse query config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadQueryConfig reads and parses a YAML query config file.
func LoadQueryConfig(path string) (*QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query config %s: %w", path, err)
	}
	return ParseQueryConfig(data)
}

func (c *QueryConfig) validate() error {
	if c.RefetchInterval < 0 {
		return fmt.Errorf("refetch_interval cannot be negative: %s", c.RefetchInterval)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay cannot be negative: %s", c.RetryDelay)
	}
	switch c.Policy.Kind {
	case "":
		c.Policy.Kind = PolicyAutomatic
	case PolicyAutomatic, PolicySubscription:
	default:
		return fmt.Errorf("unknown policy %q", c.Policy.Kind)
	}
	if c.Policy.InitialSubscribers < 0 {
		return fmt.Errorf("initial_subscribers cannot be negative: %d", c.Policy.InitialSubscribers)
	}
	return nil
}
