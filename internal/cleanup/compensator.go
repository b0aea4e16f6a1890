// Package cleanup records principals orphaned by partial provisioning failures
// and sweeps them on a schedule.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lab-access/backend/internal/docstore"
	"lab-access/backend/internal/principal"
	"lab-access/backend/internal/provisioning/domain"
)

// Collection holds one marker per orphaned principal, keyed by account key.
const Collection = "provisioningCleanup"

// Marker fields.
const (
	fieldAccountKey       = "uid"
	fieldIdentifier       = "loginId"
	fieldEmail            = "email"
	fieldStage            = "stage"
	fieldReason           = "reason"
	fieldDetectedAt       = "detectedAt"
	fieldPrincipalDeleted = "principalDeleted"
	fieldManual           = "needsManualRemoval"
)

// MarkerCompensator writes a cleanup marker for each orphan and, when a deleter is
// configured, removes the principal right away. Unconfirmed orphans are only
// recorded: the sweeper checks registry ownership before deleting anything.
type MarkerCompensator struct {
	store   docstore.Store
	deleter principal.Deleter
	log     logrus.FieldLogger
}

// NewMarkerCompensator returns a compensator writing markers to store. deleter may be nil.
func NewMarkerCompensator(store docstore.Store, deleter principal.Deleter, log logrus.FieldLogger) *MarkerCompensator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MarkerCompensator{store: store, deleter: deleter, log: log.WithField("component", "cleanup")}
}

// Compensate records o. The marker is written before any deletion so a crash in
// between still leaves the orphan discoverable by the sweeper.
func (c *MarkerCompensator) Compensate(ctx context.Context, o domain.Orphan) error {
	if o.AccountKey == "" {
		return fmt.Errorf("cleanup: orphan has no account key")
	}
	detected := o.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	marker := docstore.Document{
		fieldAccountKey: o.AccountKey,
		fieldIdentifier: o.Identifier,
		fieldEmail:      o.Email,
		fieldStage:      o.Stage,
		fieldReason:     o.Reason,
		fieldDetectedAt: detected.UTC().Format(time.RFC3339Nano),
	}
	if err := c.store.Set(ctx, Collection, o.AccountKey, marker, false); err != nil {
		return fmt.Errorf("cleanup: write marker: %w", err)
	}
	log := c.log.WithFields(logrus.Fields{"account_key": o.AccountKey, "identifier": o.Identifier, "stage": o.Stage})
	if c.deleter == nil || o.Unconfirmed {
		log.WithField("unconfirmed", o.Unconfirmed).Info("cleanup: orphan recorded")
		return nil
	}
	if err := c.deleter.DeletePrincipal(ctx, o.AccountKey); err != nil {
		log.WithError(err).Warn("cleanup: principal delete failed; sweeper will retry")
		return nil
	}
	if err := c.store.Set(ctx, Collection, o.AccountKey, docstore.Document{fieldPrincipalDeleted: true}, true); err != nil {
		log.WithError(err).Warn("cleanup: marker update failed")
	}
	log.Info("cleanup: orphan principal deleted")
	return nil
}
