// Command spruce is the task-execution agent's CLI. Cron entries written by
// the scheduler invoke `spruce run`; operators use the other subcommands to
// manage schedules and stuck runs by hand.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wphospital/sprucepy/internal/config"
	"github.com/wphospital/sprucepy/internal/crontab"
	"github.com/wphospital/sprucepy/internal/logging"
	"github.com/wphospital/sprucepy/internal/notify"
	"github.com/wphospital/sprucepy/internal/scheduler"
	"github.com/wphospital/sprucepy/internal/spruceapi"
)

func main() {
	root := &cobra.Command{
		Use:           "spruce",
		Short:         "Spruce task-execution agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newScheduleCmd(),
		newUnscheduleCmd(),
		newCurrentScheduleCmd(),
		newNextRunCmd(),
		newKillCmd(),
		newExecuteCmd(),
		newInstallDepsCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "spruce:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// exitCode carries the run subcommand's status code out to main so that
// deferred cleanup (the journal's WAL close in particular) runs before the
// process exits.
var exitCode int

// app bundles the pieces most commands need.
type app struct {
	cfg    *config.Config
	client *spruceapi.Client
	logger *slog.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel)
	client := spruceapi.New(spruceapi.Options{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout,
	})
	return &app{cfg: cfg, client: client, logger: logger}, nil
}

func (a *app) scheduler() (*scheduler.Scheduler, error) {
	cronLoc, err := a.cfg.CronLocation()
	if err != nil {
		return nil, err
	}
	displayLoc, err := a.cfg.DisplayLocation()
	if err != nil {
		return nil, err
	}
	store := crontab.New(&crontab.SystemSource{User: a.cfg.Cron.User})
	return scheduler.New(store, a.cfg.Cron.Binary, cronLoc, displayLoc, a.logger), nil
}

func (a *app) failureNotifier() (*notify.FailureNotifier, error) {
	displayLoc, err := a.cfg.DisplayLocation()
	if err != nil {
		return nil, err
	}
	mailer := notify.NewMailer(notify.MailerConfig{
		Host: a.cfg.Mail.Host,
		Port: a.cfg.Mail.Port,
		From: a.cfg.Mail.From,
	}, a.client, a.logger)
	sms := notify.NewSMSSender(notify.SMSConfig{
		Region: a.cfg.SMS.Region,
	}, a.client, a.client, a.logger)
	return notify.NewFailureNotifier(notify.FailureNotifierConfig{
		AppURL:          a.cfg.API.AppURL,
		DisplayLocation: displayLoc,
	}, a.client, mailer, sms, a.logger), nil
}

func parseStartFlag(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	start, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --start %q: must be RFC3339", raw)
	}
	return &start, nil
}
