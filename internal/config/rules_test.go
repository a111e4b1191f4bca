package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesSessionCartConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "Should load custom rules cache settings",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_RULES_CACHE_TTL":      "2m",
				"GIFTRULES_RULES_CACHE_CAPACITY": "8",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2*time.Minute, cfg.Rules.CacheTTL)
				assert.Equal(t, 8, cfg.Rules.CacheCapacity)
			},
		},
		{
			name: "Should accept the TTL bounds inclusively",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_RULES_CACHE_TTL": "10m",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10*time.Minute, cfg.Rules.CacheTTL)
			},
		},
		{
			name: "Should fail validation when rules cache TTL is below 1s",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_RULES_CACHE_TTL": "500ms",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when rules cache TTL exceeds 10m",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_RULES_CACHE_TTL": "11m",
			}),
			wantErr: true,
		},
		{
			name: "Should default the warm interval and allow disabling it",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_RULES_WARM_INTERVAL": "0s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Zero(t, cfg.Rules.WarmInterval)
			},
		},
		{
			name: "Should fail validation when the warm interval is below 1s",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_RULES_WARM_INTERVAL": "200ms",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when the warmer is slower than the cache TTL",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_RULES_CACHE_TTL":     "20s",
				"GIFTRULES_RULES_WARM_INTERVAL": "30s",
			}),
			wantErr: true,
		},
		{
			name: "Should accept a short TTL once the warmer is disabled",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_RULES_CACHE_TTL":     "5s",
				"GIFTRULES_RULES_WARM_INTERVAL": "0",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5*time.Second, cfg.Rules.CacheTTL)
			},
		},
		{
			name: "Should fail validation when session key prefix contains a colon",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_SESSION_KEY_PREFIX": "shop:gifts",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when session TTL is below a minute",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_SESSION_TTL": "30s",
			}),
			wantErr: true,
		},
		{
			name: "Should load cart toggles",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_CART_PRUNE_INELIGIBLE_GIFTS": "false",
				"GIFTRULES_CART_PRICES_INCLUDE_TAX":     "true",
				"GIFTRULES_SESSION_SERVE_STALE":         "false",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Cart.PruneIneligibleGifts)
				assert.True(t, cfg.Cart.PricesIncludeTax)
				assert.False(t, cfg.Session.ServeStale)
			},
		},
		{
			name: "Should fail validation when cart max items is zero",
			envVars: mergeEnvVars(map[string]string{
				"GIFTRULES_CART_MAX_ITEMS": "0",
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			if tt.want != nil {
				tt.want(t, cfg)
			}
		})
	}
}
