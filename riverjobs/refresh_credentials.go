package riverjobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/riverqueue/river"
	log "github.com/sirupsen/logrus"
)

// DefaultRefreshLead is how long before expiry a credential is renewed.
const DefaultRefreshLead = 2 * time.Minute

type RefreshCredentialsArgs struct {
	// LeadSeconds overrides DefaultRefreshLead.
	LeadSeconds int `json:"lead_seconds,omitempty"`
}

func (RefreshCredentialsArgs) Kind() string { return "storeauth_refresh_credentials" }

func (args RefreshCredentialsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: time.Minute,
			ByQueue:  true,
		},
	}
}

// Renewable is a cached store credential; *credential.Cache and the store
// accounts that embed it satisfy it.
type Renewable interface {
	ExpiresWithin(d time.Duration) bool
	Renew(ctx context.Context) (string, error)
}

// RefreshCredentialsWorker renews store API credentials shortly before they
// expire so token requests do not pay for the renewal.
type RefreshCredentialsWorker struct {
	river.WorkerDefaults[RefreshCredentialsArgs]
	creds map[string]Renewable
}

func NewRefreshCredentialsWorker(creds map[string]Renewable) *RefreshCredentialsWorker {
	return &RefreshCredentialsWorker{creds: creds}
}

func (w *RefreshCredentialsWorker) Timeout(*river.Job[RefreshCredentialsArgs]) time.Duration {
	return time.Minute
}

// Work renews every credential that expires within the lead. Failures are
// joined; one failing account does not stop the others.
func (w *RefreshCredentialsWorker) Work(ctx context.Context, job *river.Job[RefreshCredentialsArgs]) error {
	if w == nil || len(w.creds) == 0 {
		return errors.New("storeauth refresh: no credentials configured")
	}
	lead := DefaultRefreshLead
	if job.Args.LeadSeconds > 0 {
		lead = time.Duration(job.Args.LeadSeconds) * time.Second
	}

	names := make([]string, 0, len(w.creds))
	for name := range w.creds {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		c := w.creds[name]
		if !c.ExpiresWithin(lead) {
			continue
		}
		if _, err := c.Renew(ctx); err != nil {
			log.WithContext(ctx).WithError(err).WithField("credential", name).Warn("storeauth: credential renewal failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		log.WithContext(ctx).WithField("credential", name).Debug("storeauth: credential renewed")
	}
	return errors.Join(errs...)
}
