package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"creditgate/pkg/logging"
)

const rateCacheTTL = 5 * time.Minute

// RateOracle fetches the spot price of the settlement asset in the pricing
// currency from a CoinGecko-compatible simple-price API, with a TTL cache
// and stale-cache fallback when the upstream is unreachable.
type RateOracle struct {
	apiURL   string
	assetID  string // e.g. "bitcoin"
	currency string // e.g. "eur"
	client   *http.Client
	logger   logging.Logger

	mu        sync.RWMutex
	rate      float64
	fetchedAt time.Time
}

// NewRateOracle creates a rate oracle for one asset/currency pair.
func NewRateOracle(apiURL, assetID, currency string, timeout time.Duration, logger logging.Logger) *RateOracle {
	return &RateOracle{
		apiURL:   apiURL,
		assetID:  assetID,
		currency: strings.ToLower(currency),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Rate returns the current price of one coin in the pricing currency.
func (o *RateOracle) Rate(ctx context.Context) (float64, error) {
	o.mu.RLock()
	cachedRate := o.rate
	fetchedAt := o.fetchedAt
	o.mu.RUnlock()

	// Return cached if still valid
	if time.Since(fetchedAt) < rateCacheTTL && cachedRate > 0 {
		return cachedRate, nil
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", o.apiURL, o.assetID, o.currency)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		if cachedRate > 0 {
			return cachedRate, nil
		}
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		// Return stale cache if available
		if cachedRate > 0 {
			return cachedRate, nil
		}
		return 0, fmt.Errorf("failed to fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if cachedRate > 0 {
			return cachedRate, nil
		}
		return 0, fmt.Errorf("rate API returned status %d", resp.StatusCode)
	}

	var result map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if cachedRate > 0 {
			return cachedRate, nil
		}
		return 0, fmt.Errorf("failed to decode rate response: %w", err)
	}

	rate, ok := result[o.assetID][o.currency]
	if !ok || rate <= 0 {
		if cachedRate > 0 {
			return cachedRate, nil
		}
		return 0, fmt.Errorf("%s/%s rate not found in response", o.assetID, o.currency)
	}

	o.mu.Lock()
	o.rate = rate
	o.fetchedAt = time.Now()
	o.mu.Unlock()

	o.logger.WithFields(logging.Fields{
		"asset": o.assetID,
		"rate":  rate,
	}).Debug("Fetched fresh settlement rate")
	return rate, nil
}
