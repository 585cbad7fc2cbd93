package jobqueue

import (
	"fmt"

	"github.com/vidvault/vidvault/app/repository"
	"github.com/vidvault/vidvault/internal/pkg/mail"
)

// processReceiptEmailJob sends the purchase or refund receipt for one order
func (q *Queue) processReceiptEmailJob(job *Job) error {
	payload, err := ReceiptEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid receipt email payload: %w", err)
	}

	user, err := repository.GetGlobalRepositories().User.GetByID(payload.UserID)
	if err != nil {
		return fmt.Errorf("receipt user %d not found: %w", payload.UserID, err)
	}

	subject := "Your VidVault purchase receipt"
	action := "purchased"
	if payload.Refund {
		subject = "Your VidVault refund confirmation"
		action = "been refunded for"
	}

	reference := payload.BulkID
	if reference == "" && payload.PurchaseID > 0 {
		reference = fmt.Sprintf("purchase #%d", payload.PurchaseID)
	}

	body := fmt.Sprintf(
		"<h2>Hi %s,</h2>"+
			"<p>You have %s %d video(s).</p>"+
			"<p>Total: %s %.2f</p>"+
			"<p>Reference: %s</p>"+
			"<p>Thanks for using VidVault!</p>",
		user.Name, action, payload.ItemCount,
		payload.Currency, float64(payload.TotalCents)/100,
		reference,
	)

	return mail.SendMail(user.Email, subject, body)
}
