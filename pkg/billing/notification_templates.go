package billing

import (
	"fmt"
	"strings"
	"time"
)

// paymentSuccessNotification returns the queued message for a successful payment.
func paymentSuccessNotification(planName string, amount float64, currency string) (subject, message string) {
	subject = "Your GreenoFig payment was successful"
	if planName == "" {
		planName = "GreenoFig"
	}

	message = fmt.Sprintf(`Thanks for your payment of %.2f %s.

Your %s plan is active. Head to the app to start using your new features.`, amount, currency, planName)

	return
}

// paymentFailedNotification returns the queued message for a declined payment.
func paymentFailedNotification(reason string, nextRetry time.Time) (subject, message string) {
	subject = "Action required: your GreenoFig payment failed"
	if strings.TrimSpace(reason) == "" {
		reason = "Your payment method was declined."
	}

	message = fmt.Sprintf(`We were unable to process your latest payment.

Reason: %s

We will retry on %s. Please update your payment method before then to keep your plan.`, reason, nextRetry.UTC().Format("January 2, 2006"))

	return
}

// subscriptionCancelledNotification returns the queued message for a cancelled subscription.
func subscriptionCancelledNotification(periodEnd *time.Time) (subject, message string) {
	subject = "Your GreenoFig subscription has been cancelled"

	access := "Your account has moved to the free plan."
	if periodEnd != nil && !periodEnd.IsZero() {
		access = fmt.Sprintf("You keep access to paid features until %s, then your account moves to the free plan.", periodEnd.UTC().Format("January 2, 2006"))
	}

	message = fmt.Sprintf(`We're sorry to see you go. Your subscription has been cancelled.

%s

You can resubscribe at any time from your account settings.`, access)

	return
}

// invoiceNumber derives a stable invoice number from the transaction id.
func invoiceNumber(issued time.Time, transactionID string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(transactionID, "-", ""))
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	return fmt.Sprintf("INV-%s-%s", issued.UTC().Format("20060102"), suffix)
}
