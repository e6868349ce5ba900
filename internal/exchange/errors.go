package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for order normalization. Callers match these with
// errors.Is and skip the order rather than aborting the tick.
var (
	ErrVolumeRoundsToZero = errors.New("volume rounds to zero at pair precision")
	ErrVolumeBelowMinimum = errors.New("volume below exchange minimum")
	ErrPriceRoundsToZero  = errors.New("price rounds to zero at pair precision")
	ErrCostBelowMinimum   = errors.New("order cost below exchange minimum")
)

// Sentinel errors for API failure classes.
var (
	ErrAuth        = errors.New("authentication rejected")
	ErrInvalidPair = errors.New("unknown asset pair")
)

// APIError is a non-empty error array in an otherwise successful HTTP
// response. These are application failures and are never retried.
type APIError struct {
	Endpoint string
	Messages []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Endpoint, strings.Join(e.Messages, "; "))
}

// classifyAPIError wraps the well-known failure classes so callers can
// match them with errors.Is.
func classifyAPIError(endpoint string, messages []string) error {
	apiErr := &APIError{Endpoint: endpoint, Messages: messages}
	for _, m := range messages {
		switch {
		case strings.Contains(m, "Invalid key"),
			strings.Contains(m, "Invalid signature"),
			strings.Contains(m, "Invalid nonce"),
			strings.Contains(m, "Permission denied"):
			return fmt.Errorf("%w: %s", ErrAuth, apiErr)
		case strings.Contains(m, "Unknown asset pair"):
			return fmt.Errorf("%w: %s", ErrInvalidPair, apiErr)
		}
	}
	return apiErr
}
