package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/Veraticus/mailtally/internal/config"
	"github.com/Veraticus/mailtally/internal/engine"
	"github.com/Veraticus/mailtally/internal/extract"
	"github.com/Veraticus/mailtally/internal/googleauth"
	"github.com/Veraticus/mailtally/internal/llm"
	"github.com/Veraticus/mailtally/internal/mailbox"
	"github.com/Veraticus/mailtally/internal/notify"
	"github.com/Veraticus/mailtally/internal/prefilter"
	"github.com/Veraticus/mailtally/internal/scheduler"
	"github.com/Veraticus/mailtally/internal/service"
	"github.com/Veraticus/mailtally/internal/storage"
	"github.com/Veraticus/mailtally/internal/summary"
)

// app holds the wired pipeline for commands that run it.
type app struct {
	store     service.Store
	scheduler *scheduler.Scheduler
}

// Close stops the scheduler, waiting for an active run, then closes the store.
func (a *app) Close(ctx context.Context) error {
	err := a.scheduler.Close(ctx)
	if closeErr := a.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// initStorage opens and migrates the configured store.
func initStorage(ctx context.Context) (service.Store, error) {
	db := config.LoadDatabaseConfig(viper.GetViper())
	store, err := storage.Open(ctx, storage.Options{URL: db.URL, Path: db.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// initSettings returns the persisted scheduler settings file.
func initSettings() (*config.SettingsFile, config.SchedulerConfig, error) {
	cfg, err := config.LoadSchedulerConfig(viper.GetViper())
	if err != nil {
		return nil, config.SchedulerConfig{}, err
	}
	return config.NewSettingsFile(cfg.SettingsFile), cfg, nil
}

// newApp wires every component from configuration.
func newApp(ctx context.Context) (*app, error) {
	v := viper.GetViper()
	logger := slog.Default()

	store, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, v, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, v *viper.Viper, store service.Store, logger *slog.Logger) (*app, error) {
	mailCfg, err := config.LoadMailboxConfig(v)
	if err != nil {
		return nil, err
	}

	var ts oauth2.TokenSource
	needsOAuth := mailCfg.Provider == config.ProviderGmail ||
		(mailCfg.Provider == config.ProviderIMAP && mailCfg.IMAP.Password == "") ||
		v.GetString("notify.method") == config.NotifyGmail
	if needsOAuth {
		oauthCfg, err := config.LoadOAuthConfig(v)
		if err != nil {
			return nil, err
		}
		ts, err = googleauth.TokenSource(ctx, oauthCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load gmail credentials: %w", err)
		}
	}

	source, err := newSource(ctx, mailCfg, ts, logger)
	if err != nil {
		return nil, err
	}

	llmCfg, err := config.LoadLLMConfig(v)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(llmCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	extractOpts, err := config.LoadExtractOptions(v)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(ctx, v, ts)
	if err != nil {
		return nil, err
	}

	pipelineCfg, err := config.LoadPipelineConfig(v)
	if err != nil {
		return nil, err
	}
	exec, err := engine.NewWithConfig(engine.Deps{
		Source:     source,
		Filter:     prefilter.New(config.LoadPrefilterOptions(v)),
		Extractor:  extract.New(client, extractOpts, logger),
		Store:      store,
		Summarizer: summary.NewAggregator(store, logger),
		Notifier:   notifier,
		Logger:     logger,
	}, pipelineCfg)
	if err != nil {
		return nil, err
	}

	settings, schedCfg, err := initSettings()
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Deps{
		Executor: exec,
		Store:    store,
		Settings: settings,
		Logger:   logger,
	}, scheduler.Options{
		LookbackDays: schedCfg.LookbackDays,
		MaxRangeDays: schedCfg.MaxRangeDays,
	})
	if err != nil {
		return nil, err
	}

	return &app{store: store, scheduler: sched}, nil
}

func newSource(ctx context.Context, cfg config.MailboxConfig, ts oauth2.TokenSource, logger *slog.Logger) (mailbox.Source, error) {
	if cfg.Provider == config.ProviderIMAP {
		imapCfg := cfg.IMAP
		if imapCfg.Password == "" {
			imapCfg.TokenSource = ts
		}
		return mailbox.NewIMAPSource(imapCfg, logger)
	}
	return mailbox.NewGmailSource(ctx, ts, cfg.Label, logger)
}

// newNotifier returns nil when notifications are not configured; runs then
// log instead of sending.
func newNotifier(ctx context.Context, v *viper.Viper, ts oauth2.TokenSource) (notify.Notifier, error) {
	if len(v.GetStringSlice("notify.to")) == 0 {
		return nil, nil
	}
	cfg, err := config.LoadNotifyConfig(v)
	if err != nil {
		return nil, err
	}
	if cfg.Method == config.NotifyGmail {
		return notify.NewGmailNotifier(ctx, ts, cfg.From, cfg.To)
	}
	return notify.NewSMTPNotifier(cfg.SMTP)
}
