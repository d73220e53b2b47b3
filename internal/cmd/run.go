// Package cmd wires the engine together and runs the service process.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guildvault/guildvault/internal/api"
	"github.com/guildvault/guildvault/internal/backup"
	"github.com/guildvault/guildvault/internal/config"
	"github.com/guildvault/guildvault/internal/discord"
	"github.com/guildvault/guildvault/internal/restore"
	"github.com/guildvault/guildvault/internal/scheduler"
	"github.com/guildvault/guildvault/internal/store"
	"github.com/guildvault/guildvault/internal/token"
	"github.com/guildvault/guildvault/internal/watcher"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// discordAuthorizeURL is the OAuth2 authorize page users are sent to.
const discordAuthorizeURL = "https://discord.com/oauth2/authorize"

// StartService boots the engine: opens the database, re-installs persisted
// schedules, and serves the HTTP surface until a shutdown signal arrives.
func StartService(cfg *config.Config, configPath string) {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	credentials := store.NewCredentialStore(db)
	snapshots := store.NewSnapshotStore(db)
	schedules := store.NewScheduleStore(db)

	provider := discord.NewProviderClient(cfg)
	manager := token.NewManager(credentials, provider, cfg.SafetyMargin())
	roster := discord.NewRosterClient(cfg)
	granter := discord.NewGrantClient(cfg)

	enumerator := backup.NewEnumerator(roster, manager, snapshots)
	executor := restore.NewExecutor(granter, manager)
	sched := scheduler.New(schedules, enumerator)

	if err = sched.Restore(context.Background()); err != nil {
		log.Fatalf("failed to restore schedules: %v", err)
	}
	sched.Run()

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.Discord.ClientID,
		ClientSecret: cfg.Discord.ClientSecret,
		RedirectURL:  cfg.Discord.RedirectURL,
		Scopes:       []string{"identify", "guilds.join"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  discordAuthorizeURL,
			TokenURL: discord.DefaultTokenURL,
		},
	}

	handlers := api.NewHandlers(cfg, credentials, snapshots, schedules, enumerator, executor, sched, oauthCfg, provider)
	apiServer := api.NewServer(cfg, handlers)

	if configPath != "" {
		stopWatch, errWatch := watcher.Watch(configPath, func(updated *config.Config) {
			if updated.Debug {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
			cfg.ApplyReload(updated)
			log.Info("configuration reloaded")
		})
		if errWatch != nil {
			log.Warnf("config watcher disabled: %v", errWatch)
		} else {
			defer stopWatch()
		}
	}

	go func() {
		log.Infof("starting API server on port %d", cfg.Port)
		if errStart := apiServer.Start(); errStart != nil {
			log.Fatalf("API server failed to start: %v", errStart)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("received shutdown signal, cleaning up...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = apiServer.Stop(ctx); err != nil {
		log.Errorf("error stopping API server: %v", err)
	}
	sched.Shutdown()
	log.Info("cleanup completed, exiting")
}
