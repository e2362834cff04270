package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/vetcare/clinic-finance/pkg/config"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client holds the clinic's Stripe account credentials. Card payments and
// refunds go through the Gateway built on top of it; the webhook endpoint
// reads the signing secret and mode from it.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
	maxRetries    int
}

// NewClient validates the key against the configured mode. A missing webhook
// secret is allowed: card payments still confirm through the client-driven
// confirm call, only the webhook endpoint stays disabled.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret != "" && !strings.HasPrefix(signingSecret, "whsec_") {
		return nil, errors.New("stripe webhook secret must start with whsec_")
	}

	if logg != nil {
		fields := map[string]any{
			"stripe_env":       env,
			"webhooks_enabled": signingSecret != "",
		}
		if signingSecret == "" {
			logg.Warn(logg.WithFields(ctx, fields), "stripe webhook secret not set; payment intent events will be rejected")
		} else {
			logg.Info(logg.WithFields(ctx, fields), "stripe client initialized")
		}
	}

	return &Client{
		api:           stripe.NewClient(apiKey),
		environment:   env,
		signingSecret: signingSecret,
		maxRetries:    cfg.MaxRetries,
	}, nil
}

// Environment reports the normalized mode, "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// Livemode reports whether events for this account should carry livemode=true.
func (c *Client) Livemode() bool {
	return c.Environment() == liveEnv
}

// SigningSecret returns the webhook signing secret, empty when webhooks are off.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

// validateAPIKey accepts secret (sk_) and restricted (rk_) keys for the mode.
func validateAPIKey(env, key string) error {
	var prefixes []string
	switch env {
	case testEnv:
		prefixes = []string{"sk_test_", "rk_test_"}
	case liveEnv:
		prefixes = []string{"sk_live_", "rk_live_"}
	default:
		return errInvalidStripeEnv
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s mode requires a key starting with %s", env, strings.Join(prefixes, " or "))
}
