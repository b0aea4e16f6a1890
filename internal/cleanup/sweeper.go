package cleanup

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"lab-access/backend/internal/docstore"
	"lab-access/backend/internal/principal"
	"lab-access/backend/internal/provisioning/domain"
)

// DefaultBatchSize is the number of markers a sweep reads when none is configured.
const DefaultBatchSize = 100

// sweepTimeout bounds one scheduled sweep.
const sweepTimeout = 2 * time.Minute

// Registry is the registry read needed by the sweeper.
type Registry interface {
	Lookup(ctx context.Context, identifier string) (*domain.RegistryEntry, error)
}

// Profiles is the profile removal needed by the sweeper.
type Profiles interface {
	Delete(ctx context.Context, accountKey string) error
}

// Report summarizes one sweep.
type Report struct {
	Scanned int
	// Resolved markers belonged to accounts the registry points to after all.
	Resolved int
	Removed  int
	// Pending markers await manual principal removal.
	Pending int
	Failed  int
}

// Sweeper removes orphaned profiles and principals recorded by MarkerCompensator.
type Sweeper struct {
	store     docstore.Store
	registry  Registry
	profiles  Profiles
	deleter   principal.Deleter
	batchSize int
	log       logrus.FieldLogger
}

// NewSweeper returns a sweeper. deleter may be nil, in which case orphaned principals are
// flagged for manual removal after their profiles are deleted.
func NewSweeper(store docstore.Store, registry Registry, profiles Profiles, deleter principal.Deleter, batchSize int, log logrus.FieldLogger) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		store:     store,
		registry:  registry,
		profiles:  profiles,
		deleter:   deleter,
		batchSize: batchSize,
		log:       log.WithField("component", "cleanup"),
	}
}

// Sweep processes up to one batch of markers, oldest first. A marker whose account
// the registry now points to is dropped without touching the account.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	entries, err := s.store.List(ctx, Collection, s.batchSize)
	if err != nil {
		return rep, err
	}
	for _, e := range entries {
		rep.Scanned++
		if e.Data[fieldManual] == true {
			rep.Pending++
			continue
		}
		log := s.log.WithFields(logrus.Fields{"account_key": e.Key, "identifier": e.Data.String(fieldIdentifier)})
		switch outcome, err := s.sweepOne(ctx, e); {
		case err != nil:
			rep.Failed++
			log.WithError(err).Warn("cleanup: sweep failed")
		case outcome == outcomeResolved:
			rep.Resolved++
		case outcome == outcomePending:
			rep.Pending++
			log.Warn("cleanup: principal needs manual removal")
		default:
			rep.Removed++
		}
	}
	return rep, nil
}

type sweepOutcome int

const (
	outcomeRemoved sweepOutcome = iota
	outcomeResolved
	outcomePending
)

func (s *Sweeper) sweepOne(ctx context.Context, e docstore.Entry) (sweepOutcome, error) {
	accountKey := e.Key
	if id := e.Data.String(fieldIdentifier); id != "" {
		entry, err := s.registry.Lookup(ctx, id)
		if err != nil {
			return 0, err
		}
		if entry != nil && entry.AccountKey == accountKey {
			return outcomeResolved, s.store.Delete(ctx, Collection, accountKey)
		}
	}
	if err := s.profiles.Delete(ctx, accountKey); err != nil {
		return 0, err
	}
	if e.Data[fieldPrincipalDeleted] != true {
		if s.deleter == nil {
			return outcomePending, s.store.Set(ctx, Collection, accountKey, docstore.Document{fieldManual: true}, true)
		}
		if err := s.deleter.DeletePrincipal(ctx, accountKey); err != nil {
			return 0, err
		}
	}
	return outcomeRemoved, s.store.Delete(ctx, Collection, accountKey)
}

// Run performs one sweep with a bounded timeout and logs the report. It implements cron.Job.
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	rep, err := s.Sweep(ctx)
	if err != nil {
		s.log.WithError(err).Error("cleanup: sweep aborted")
		return
	}
	if rep.Scanned == 0 {
		return
	}
	s.log.WithFields(logrus.Fields{
		"scanned":  rep.Scanned,
		"resolved": rep.Resolved,
		"removed":  rep.Removed,
		"pending":  rep.Pending,
		"failed":   rep.Failed,
	}).Info("cleanup: sweep finished")
}
