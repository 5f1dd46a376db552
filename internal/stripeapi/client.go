package stripeapi

import (
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Client wraps the two Stripe API lookups the event processor needs beyond
// the webhook payload itself. Constructed per process with an explicit key,
// no package-level singleton.
type Client struct {
	api *client.API
}

func New(secretKey string) *Client {
	return &Client{api: client.New(secretKey, nil)}
}

// CustomerEmail resolves the email on a Stripe customer record.
func (c *Client) CustomerEmail(customerID string) (string, error) {
	cust, err := c.api.Customers.Get(customerID, nil)
	if err != nil {
		return "", fmt.Errorf("retrieve customer %s: %w", customerID, err)
	}
	return cust.Email, nil
}

// FirstProductID returns the product on the first line item of a checkout
// session, used for the allow-list filter.
func (c *Client) FirstProductID(sessionID string) (string, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Limit = stripe.Int64(1)
	iter := c.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		if li.Price != nil && li.Price.Product != nil {
			return li.Price.Product.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list line items for %s: %w", sessionID, err)
	}
	return "", nil
}
