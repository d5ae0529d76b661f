package billing

import (
	"context"
	"errors"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	apperrors "github.com/sitekeeper/sitekeeper/internal/pkg/errors"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
)

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	sc            *client.API
	webhookSecret string
	log           *logger.Logger
}

// NewStripeProvider builds a Stripe-backed provider.
func NewStripeProvider(secretKey, webhookSecret string, log *logger.Logger) *StripeProvider {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeProvider{
		sc:            sc,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// classifyErr maps Stripe failures into the provider error contract. Card
// declines keep Stripe's human-readable message verbatim so the frontend can
// show it to the user.
func classifyErr(err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		if sErr.Type == stripe.ErrorTypeCard {
			return apperrors.CardError(sErr.Msg, err)
		}
		if sErr.Code == stripe.ErrorCodeResourceMissing {
			return ErrNotFound
		}
	}
	return apperrors.ProviderUnavailable(err)
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name, accountID string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	// The account id on the customer lets support trace a Stripe record back
	// without a database lookup.
	if accountID != "" {
		params.AddMetadata("account_id", accountID)
	}
	params.Context = ctx

	cust, err := p.sc.Customers.New(params)
	if err != nil {
		return nil, classifyErr(err)
	}
	return &Customer{ID: cust.ID, Email: cust.Email}, nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := p.sc.Customers.Get(customerID, params)
	if err != nil {
		return nil, classifyErr(err)
	}
	if cust.Deleted {
		return nil, ErrNotFound
	}
	return &Customer{ID: cust.ID, Email: cust.Email}, nil
}

func (p *StripeProvider) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*PaymentMethod, error) {
	attachParams := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	attachParams.Context = ctx

	pm, err := p.sc.PaymentMethods.Attach(paymentMethodID, attachParams)
	if err != nil {
		return nil, classifyErr(err)
	}

	// Make the attached card the default for future invoices.
	custParams := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	custParams.Context = ctx
	if _, err := p.sc.Customers.Update(customerID, custParams); err != nil {
		return nil, classifyErr(err)
	}

	out := &PaymentMethod{ID: pm.ID}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = pm.Card.ExpMonth
		out.ExpYear = pm.Card.ExpYear
	}
	return out, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, in CreateSubscriptionParams) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	if in.PaymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(in.PaymentMethodID)
	}
	if in.CouponID != "" {
		params.Discounts = []*stripe.SubscriptionDiscountParams{
			{Coupon: stripe.String(in.CouponID)},
		}
	}
	params.AddExpand("latest_invoice.confirmation_secret")
	params.Context = ctx

	sub, err := p.sc.Subscriptions.New(params)
	if err != nil {
		return nil, classifyErr(err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.sc.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, classifyErr(err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) SwapPrice(ctx context.Context, in SwapParams) (*Subscription, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	raw, err := p.sc.Subscriptions.Get(in.SubscriptionID, getParams)
	if err != nil {
		return nil, classifyErr(err)
	}
	if raw.Items == nil || len(raw.Items.Data) == 0 {
		return nil, apperrors.ProviderUnavailable(errors.New("subscription has no items"))
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(raw.Items.Data[0].ID),
				Price: stripe.String(in.PriceID),
			},
		},
		ProrationBehavior: stripe.String(in.Proration),
	}
	if in.ClearCancelAtPeriodEnd && raw.CancelAtPeriodEnd {
		params.CancelAtPeriodEnd = stripe.Bool(false)
	}
	params.Context = ctx

	sub, err := p.sc.Subscriptions.Update(in.SubscriptionID, params)
	if err != nil {
		return nil, classifyErr(err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx

	sub, err := p.sc.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, classifyErr(err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := p.sc.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, classifyErr(err)
	}

	out := &Invoice{
		ID:        inv.ID,
		AmountDue: inv.AmountDue,
		Currency:  string(inv.Currency),
		HostedURL: inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return out, nil
}

func (p *StripeProvider) GetCoupon(ctx context.Context, couponID string) (*Coupon, error) {
	params := &stripe.CouponParams{}
	params.Context = ctx

	c, err := p.sc.Coupons.Get(couponID, params)
	if err != nil {
		return nil, classifyErr(err)
	}

	out := &Coupon{
		ID:               c.ID,
		Valid:            c.Valid,
		Currency:         string(c.Currency),
		Duration:         string(c.Duration),
		DurationInMonths: c.DurationInMonths,
	}
	if c.PercentOff > 0 {
		v := c.PercentOff
		out.PercentOff = &v
	}
	if c.AmountOff > 0 {
		v := c.AmountOff
		out.AmountOff = &v
	}
	return out, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutSessionParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	if in.CouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(in.CouponID)},
		}
	}
	params.Context = ctx

	sess, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyErr(err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		p.log.WithError(err).Warn("webhook signature verification failed")
		return nil, apperrors.Unauthorized("invalid webhook signature")
	}
	return &WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Data: event.Data.Raw,
	}, nil
}

// fromStripeSubscription maps a Stripe subscription to the neutral shape.
// Billing periods live on the subscription item.
func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		out.CanceledAt = &t
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.PeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	if sub.LatestInvoice != nil {
		out.LatestInvoiceID = sub.LatestInvoice.ID
		if sub.LatestInvoice.ConfirmationSecret != nil {
			out.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
		}
	}
	for _, d := range sub.Discounts {
		if d == nil || d.Coupon == nil {
			continue
		}
		out.CouponID = d.Coupon.ID
		if d.Coupon.PercentOff > 0 {
			v := d.Coupon.PercentOff
			out.PercentOff = &v
		}
		if d.Coupon.AmountOff > 0 {
			v := d.Coupon.AmountOff
			out.AmountOff = &v
		}
		break
	}
	return out
}
