package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/types"
	"golang.org/x/oauth2"
)

const (
	// expiryWarningDays is the number of days before expiration to show a warning.
	expiryWarningDays = 30
	// expiryCacheTTL is how long to cache the expiry info before re-checking.
	expiryCacheTTL = 1 * time.Hour
)

// SecretExpiryChecker reports when the Graph client secret used for ticket
// emails expires. Results are cached for an hour.
type SecretExpiryChecker struct {
	mu         sync.RWMutex
	cfg        *types.GraphConfig
	cached     types.SecretExpiryInfo
	lastCheck  time.Time
	baseURL    string
	httpClient *http.Client
	tokens     func(ctx context.Context, cfg *types.GraphConfig) (oauth2.TokenSource, error)
	now        func() time.Time
}

// NewSecretExpiryChecker creates a new expiry checker for the given config.
func NewSecretExpiryChecker(cfg *types.GraphConfig) *SecretExpiryChecker {
	return &SecretExpiryChecker{
		cfg:        cfg,
		baseURL:    graphBaseURL,
		httpClient: &http.Client{Timeout: httpTimeout},
		tokens:     TokenSourceContext,
		now:        time.Now,
	}
}

// GetInfo returns the secret expiry information.
func (c *SecretExpiryChecker) GetInfo(ctx context.Context) types.SecretExpiryInfo {
	c.mu.RLock()
	if !c.lastCheck.IsZero() && c.now().Sub(c.lastCheck) < expiryCacheTTL {
		info := c.cached
		c.mu.RUnlock()
		return info
	}
	c.mu.RUnlock()

	return c.refresh(ctx)
}

// Cached returns the last result without contacting Graph. It is empty
// until GetInfo has run once.
func (c *SecretExpiryChecker) Cached() types.SecretExpiryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// UpdateConfig replaces the configuration and drops the cached result.
func (c *SecretExpiryChecker) UpdateConfig(cfg *types.GraphConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.lastCheck = time.Time{}
	c.mu.Unlock()
}

func (c *SecretExpiryChecker) refresh(ctx context.Context) types.SecretExpiryInfo {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	var info types.SecretExpiryInfo
	if cfg == nil || cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		info = types.SecretExpiryInfo{Error: "Graph API not configured"}
	} else {
		var err error
		info, err = c.fetchExpiryInfo(ctx, cfg)
		if err != nil {
			info = types.SecretExpiryInfo{Error: err.Error()}
		}
	}

	c.mu.Lock()
	c.cached = info
	c.lastCheck = c.now()
	c.mu.Unlock()

	return info
}

// applicationResponse represents the Graph API response for an application.
type applicationResponse struct {
	PasswordCredentials []passwordCredential `json:"passwordCredentials"`
}

type passwordCredential struct {
	EndDateTime string `json:"endDateTime"`
}

func (c *SecretExpiryChecker) fetchExpiryInfo(ctx context.Context, cfg *types.GraphConfig) (types.SecretExpiryInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	ts, err := c.tokens(ctx, cfg)
	if err != nil {
		return types.SecretExpiryInfo{}, fmt.Errorf("create token source: %w", err)
	}
	token, err := ts.Token()
	if err != nil {
		return types.SecretExpiryInfo{}, fmt.Errorf("acquire token: %w", err)
	}

	apiURL := fmt.Sprintf("%s/applications(appId='%s')", c.baseURL, url.PathEscape(cfg.ClientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, http.NoBody)
	if err != nil {
		return types.SecretExpiryInfo{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.SecretExpiryInfo{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return types.SecretExpiryInfo{}, fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))
	}

	var appResp applicationResponse
	if err := json.Unmarshal(body, &appResp); err != nil {
		return types.SecretExpiryInfo{}, fmt.Errorf("parse response: %w", err)
	}

	return c.earliestExpiry(appResp.PasswordCredentials), nil
}

// earliestExpiry summarises the credential that expires first.
func (c *SecretExpiryChecker) earliestExpiry(creds []passwordCredential) types.SecretExpiryInfo {
	var earliest time.Time
	for _, cred := range creds {
		if cred.EndDateTime == "" {
			continue
		}
		expiry, err := time.Parse(time.RFC3339, cred.EndDateTime)
		if err != nil {
			continue
		}
		if earliest.IsZero() || expiry.Before(earliest) {
			earliest = expiry
		}
	}

	if earliest.IsZero() {
		return types.SecretExpiryInfo{Error: "no password credentials found"}
	}

	daysLeft := max(int(earliest.Sub(c.now()).Hours()/24), 0)

	return types.SecretExpiryInfo{
		ExpiresAt:   earliest.Format(time.RFC3339),
		ExpiresSoon: daysLeft <= expiryWarningDays,
		DaysLeft:    daysLeft,
	}
}
