package opay

import (
	"fmt"

	"github.com/cassiomorais/paygate/internal/signature"
)

// TransactionPayload is the payload block of an OPay transaction-status callback.
type TransactionPayload struct {
	Amount           string `json:"amount"`
	Channel          string `json:"channel"`
	Country          string `json:"country"`
	Currency         string `json:"currency"`
	DisplayedFailure string `json:"displayedFailure"`
	Fee              string `json:"fee"`
	InstrumentType   string `json:"instrumentType"`
	Reference        string `json:"reference"`
	Refunded         bool   `json:"refunded"`
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
	Token            string `json:"token"`
	TransactionID    string `json:"transactionId"`
	UpdatedAt        string `json:"updated_at"`
}

// Callback is the full OPay callback body.
type Callback struct {
	Payload TransactionPayload `json:"payload"`
	SHA512  string             `json:"sha512"`
	Type    string             `json:"type"`
}

// CanonicalString builds the exact string OPay signs. Field order, quoting and
// the t/f rendering of refunded are fixed by OPay; nothing is escaped.
func CanonicalString(p TransactionPayload) string {
	refunded := "f"
	if p.Refunded {
		refunded = "t"
	}
	return fmt.Sprintf(`{Amount:"%s",Currency:"%s",Reference:"%s",Refunded:%s,Status:"%s",Timestamp:"%s",Token:"%s",TransactionID:"%s"}`,
		p.Amount, p.Currency, p.Reference, refunded, p.Status, p.Timestamp, p.Token, p.TransactionID)
}

// Sign returns the hex HMAC-SHA3-512 of the payload's canonical string.
func Sign(secret string, p TransactionPayload) string {
	return signature.HMACSHA3512([]byte(secret), []byte(CanonicalString(p)))
}
