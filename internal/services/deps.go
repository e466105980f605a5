// Package services implements the maintenance task lifecycle, payment
// escalation and settlement, and the vendor order flow.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/payments"
)

// Deps are the collaborators shared by the services.
type Deps struct {
	Vehicles db.VehicleCollection
	Tasks    db.TaskCollection
	Orders   db.OrderCollection
	Payments db.PaymentCollection
	Catalog  db.CatalogCollection
	Users    db.UserCollection
	Tx       db.Transactor

	Gateway  payments.Gateway
	Notifier events.Notifier
	Logger   logrus.FieldLogger

	// Currency for new payment intents. Defaults to payments.DefaultCurrency.
	Currency string
	// Clock defaults to time.Now.
	Clock func() time.Time
	// NewBackOff builds the retry policy for optimistic version conflicts.
	NewBackOff func() backoff.BackOff
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = events.NopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	d.Currency = payments.NormalizeCurrency(d.Currency)
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewBackOff == nil {
		d.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 25 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 3 * time.Second
			return backoff.WithMaxRetries(b, 6)
		}
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Clock().UTC().Truncate(time.Millisecond)
}

// retryOnConflict reruns op while it fails with db.ErrVersionConflict.
func (d Deps) retryOnConflict(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, db.ErrVersionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(d.NewBackOff(), ctx))
}

// publish sends evt best effort. The change is already committed.
func (d Deps) publish(ctx context.Context, evt events.Event) {
	if err := d.Notifier.Publish(ctx, evt); err != nil {
		d.Logger.WithError(err).WithFields(logrus.Fields{
			"type":       evt.Type,
			"subject_id": evt.SubjectID,
		}).Warn("failed to publish lifecycle event")
	}
}
