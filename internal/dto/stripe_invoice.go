package dto

// StripeInvoice is a tolerant subset of the Stripe invoice payload. Newer API
// versions moved the subscription reference under parent.subscription_details,
// so both locations are read.
type StripeInvoice struct {
	CustomerEmail string `json:"customer_email"`
	Customer      string `json:"customer"`
	BillingReason string `json:"billing_reason"`
	Subscription  string `json:"subscription"`
	AmountPaid    int64  `json:"amount_paid"`
	AttemptCount  int64  `json:"attempt_count"`
	Currency      string `json:"currency"`
	Lines         struct {
		Data []struct {
			Price *struct {
				Product string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i *StripeInvoice) SubscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func (i *StripeInvoice) FirstProductID() string {
	if len(i.Lines.Data) > 0 && i.Lines.Data[0].Price != nil {
		return i.Lines.Data[0].Price.Product
	}
	return ""
}
