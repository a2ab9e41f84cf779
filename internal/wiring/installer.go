// Package wiring assembles the installation driver from configuration. Both
// the HTTP server and the CLI build their installer here.
package wiring

import (
	"github.com/replforge/backend/internal/config"
	"github.com/replforge/backend/internal/core/ports"
	"github.com/replforge/backend/internal/core/services"
	"github.com/replforge/backend/internal/infrastructure/logger"
	"github.com/replforge/backend/internal/infrastructure/remote"
)

type Installer struct {
	Driver   *services.InstallationDriver
	Store    *services.TaskStore
	KeyFiles *services.KeyFileStore
}

// NewInstaller wires the SSH dialer, executor, bootstrapper and key store.
// timeline may be nil.
func NewInstaller(cfg *config.Config, log *logger.Logger, timeline ports.TimelineRepository) (*Installer, error) {
	keyFiles, err := services.NewKeyFileStore(cfg.Installer.UploadDir, cfg.Installer.MaxKeySize)
	if err != nil {
		return nil, err
	}

	driverLog := log.Named("installer")
	executor := services.NewCommandExecutor(driverLog)
	store := services.NewTaskStore()

	driver := services.NewInstallationDriver(services.InstallationDriverConfig{
		Store: store,
		Dialer: remote.NewDialer(remote.SSHConfig{
			Port:           cfg.SSH.Port,
			Timeout:        cfg.SSH.DialTimeout,
			CommandTimeout: cfg.SSH.CommandTimeout,
		}),
		Executor: executor,
		Bootstrapper: services.NewReplicaBootstrapper(executor, driverLog, services.ReadinessConfig{
			PollInterval:       cfg.Installer.ReadyPollInterval,
			ReadyTimeout:       cfg.Installer.ReadyTimeout,
			PrimaryWaitTimeout: cfg.Installer.PrimaryWaitTimeout,
		}),
		KeyFiles:     keyFiles,
		TimelineRepo: timeline,
		Logger:       driverLog,
		SSHPort:      cfg.SSH.Port,
	})

	return &Installer{Driver: driver, Store: store, KeyFiles: keyFiles}, nil
}
