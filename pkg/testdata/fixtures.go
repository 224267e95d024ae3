package testdata

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/greenofig/greenofig/pkg/models"
)

// Plan returns an active plan for tier with plausible prices
func Plan(tier string) *models.SubscriptionPlan {
	monthly := gofakeit.Price(5, 50)
	return &models.SubscriptionPlan{
		ID:           uuid.NewString(),
		Name:         tier + " " + gofakeit.Adjective(),
		Tier:         tier,
		PriceMonthly: monthly,
		PriceYearly:  monthly * 10,
		Active:       true,
	}
}

// Transaction returns a succeeded transaction for userID paid with paymentIntentID
func Transaction(userID, paymentIntentID string) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		UserID:          userID,
		PlanID:          uuid.NewString(),
		Amount:          float64(gofakeit.Number(100, 10000)) / 100,
		Currency:        strings.ToUpper(gofakeit.CurrencyShort()),
		Status:          models.TransactionStatusSucceeded,
		PaymentIntentID: paymentIntentID,
		BillingCycle:    models.BillingCycleMonthly,
	}
}

// StripeID returns a fake provider identifier with the given prefix, e.g. "pi"
func StripeID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, gofakeit.LetterN(24))
}
