package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"maillite.dev/maillite/maintenance"
	"maillite.dev/maillite/notify"
	"maillite.dev/maillite/session"
	"maillite.dev/maillite/store"
)

func main() {
	if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [config.toml]\n", os.Args[0])
		os.Exit(1)
	}
	configPath := ""
	if len(os.Args) == 2 {
		if os.Args[1] == "-version" {
			fmt.Print(versionString)
			return
		}
		configPath = os.Args[1]
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(2)
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %s\n", err)
		os.Exit(2)
	}
	defer log.Sync()
	log.Info("starting", zap.String("version", versionNumber), zap.String("build", versionGit))

	files, err := newFileStore(config.DataDir, log)
	if err != nil {
		log.Fatal("data dir", zap.Error(err))
	}

	users := store.NewUsers(log, files.SaveUsers)
	users.Load(files.LoadUsers())

	mailboxes := store.NewMailboxes(log, files.SaveMessages)
	mailboxes.Load(files.LoadMessages())

	sessions := session.NewRegistry(log)

	notifier := notify.NewNotifier(sessions, log)
	if err := notifier.Start(config.UDPPort); err != nil {
		log.Fatal("notifier", zap.Error(err))
	}

	schedCfg := maintenance.DefaultConfig()
	schedCfg.RetentionDays = config.RetentionDays
	scheduler := maintenance.NewScheduler(schedCfg, sessions, users, mailboxes, notifier, log)
	scheduler.Start()

	server := newMailServer(config, users, mailboxes, sessions, notifier, log)
	control := runTCPServer(server)

	runAdminServer(&adminServer{
		config:    config,
		server:    server,
		users:     users,
		mailboxes: mailboxes,
		sessions:  sessions,
		notifier:  notifier,
		scheduler: scheduler,
		log:       log.Named("admin"),
	})

	reload := CreateReloadSignal()
	shutdown := CreateShutdownSignal()

	for {
		select {
		case cm := <-control:
			switch cm {
			case ServerControlFatalError:
				log.Fatal("tcp server failed")
			case ServerControlStopped:
				log.Info("tcp listener stopped")
			}
		case <-reload:
			newConfig, err := LoadConfig(configPath)
			if err != nil {
				log.Error("reload", zap.Error(err))
				continue
			}
			scheduler.SetRetentionDays(newConfig.RetentionDays)
			if newConfig.UDPPort != config.UDPPort {
				notifier.Stop()
				if err := notifier.Start(newConfig.UDPPort); err != nil {
					log.Error("notifier restart", zap.Error(err))
				}
			}
			config = newConfig
			log.Info("config reloaded")
		case sig := <-shutdown:
			log.Info("shutting down", zap.Stringer("signal", sig))
			server.stop()
			scheduler.Stop()
			notifier.Stop()
			return
		}
	}
}
