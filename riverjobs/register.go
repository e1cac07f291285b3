package riverjobs

import (
	"fmt"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
)

// RegisterRefreshCredentialsWorker registers the refresh worker into a River workers registry.
func RegisterRefreshCredentialsWorker(ws *river.Workers, creds map[string]Renewable) {
	river.AddWorker(ws, NewRefreshCredentialsWorker(creds))
}

// AddRefreshCredentialsPeriodicJob adds a periodic job that enqueues the refresh job on a cron schedule.
//
// Example cron: "*/5 * * * *" (every five minutes). The schedule interval
// should be shorter than the refresh lead.
func AddRefreshCredentialsPeriodicJob[T any](client *river.Client[T], cronSpec string, args RefreshCredentialsArgs, runOnStart bool) error {
	schedule, err := parseSchedule(cronSpec)
	if err != nil {
		return err
	}
	opts := args.InsertOpts()
	_ = client.PeriodicJobs().Add(
		river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) { return args, &opts },
			&river.PeriodicJobOpts{RunOnStart: runOnStart},
		),
	)
	return nil
}

func parseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule '%s': %w", spec, err)
	}
	return schedule, nil
}
