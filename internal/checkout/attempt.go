package checkout

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Attempt captures one logical checkout attempt. It is created when the user
// initiates payment and never mutated afterwards; finalization consumes it.
type Attempt struct {
	IdempotencyKey string
	UserID         string
	PickupDate     string
	PickupTime     string
	AmountCents    int64
	ItemCount      int
}

// DeriveKey returns the client-supplied key verbatim when present, otherwise
// a stable key built from the attempt coordinates. Two attempts with the same
// coordinates collapse into one gateway-level charge.
func DeriveKey(clientKey, userID, pickupDate, pickupTime string, amountCents int64, itemCount int) string {
	if k := strings.TrimSpace(clientKey); k != "" {
		return k
	}
	return strings.Join([]string{
		userID,
		pickupDate,
		pickupTime,
		strconv.FormatInt(amountCents, 10),
		strconv.Itoa(itemCount),
	}, "|")
}

// NewAttempt derives the idempotency key and freezes the attempt coordinates.
func NewAttempt(clientKey, userID, pickupDate, pickupTime string, amountCents int64, itemCount int) Attempt {
	return Attempt{
		IdempotencyKey: DeriveKey(clientKey, userID, pickupDate, pickupTime, amountCents, itemCount),
		UserID:         userID,
		PickupDate:     pickupDate,
		PickupTime:     pickupTime,
		AmountCents:    amountCents,
		ItemCount:      itemCount,
	}
}

// LayerToken scopes the derived key to a single payment attempt so a new
// attempt never reuses a previously settled gateway object. The token is
// echoed back to the client, which resubmits it on retries of the same
// attempt.
func LayerToken(key, token string) (layered, usedToken string) {
	usedToken = strings.TrimSpace(token)
	if usedToken == "" {
		usedToken = uuid.NewString()
	}
	return key + "|" + usedToken, usedToken
}
