package activation

import (
	"context"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/kafka"
)

func (e *RequestedEvent) request() *ActivateRequest {
	key := e.IdempotencyKey
	if key == "" {
		key = e.EventID
	}
	return &ActivateRequest{
		SubscriberID:     e.SubscriberID,
		BillingProfileID: e.BillingProfileID,
		OnBehalfOf:       e.OnBehalfOf,
		ApplyCashback:    e.ApplyCashback,
		PaymentMethod:    e.PaymentMethod,
		PayerWalletID:    e.PayerWalletID,
		Source:           e.Source,
		Type:             e.Type,
		IdempotencyKey:   key,
		ActedBy:          e.ActedBy,
	}
}

// HandleRequested consumes activation.requested. Requests that fail for
// business reasons are logged and acknowledged; infrastructure errors are
// returned so the offset is not committed.
func (o *Orchestrator) HandleRequested() kafka.HandlerFunc {
	return func(ctx context.Context, key, value []byte) error {
		var ev RequestedEvent
		if err := kafka.UnmarshalEvent(value, &ev); err != nil {
			o.logger.Errorf("Dropping malformed activation request %s: %v", key, err)
			return nil
		}

		a, err := o.Activate(ctx, ev.request())
		if err != nil {
			if StatusFor(err) >= 500 {
				return err
			}
			fields := map[string]interface{}{"event_id": ev.EventID, "subscriber_id": ev.SubscriberID}
			if a != nil {
				fields["activation_id"] = a.ID
			}
			o.logger.WithFields(fields).Warnf("Activation request rejected: %v", err)
			return nil
		}

		o.logger.WithField("event_id", ev.EventID).Infof("Activation %s accepted from Kafka", a.ID)
		return nil
	}
}
