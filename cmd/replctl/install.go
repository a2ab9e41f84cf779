package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/replforge/backend/internal/core/services"
	"github.com/replforge/backend/internal/domain"
	"github.com/replforge/backend/internal/wiring"
	"github.com/spf13/cobra"
)

var installFlags struct {
	primary   string
	secondary string
	osType    string
	version   string
	keyPath   string
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and join a primary and a secondary",
	Long: `Install MongoDB on both hosts, found a replica set on the primary and
join the secondary to it. The private key is copied into the upload area
first; the copy is deleted when the run ends and the original is untouched.`,
	RunE: runInstall,
}

func init() {
	f := installCmd.Flags()
	f.StringVar(&installFlags.primary, "primary", "", "primary host IPv4 address")
	f.StringVar(&installFlags.secondary, "secondary", "", "secondary host IPv4 address")
	f.StringVar(&installFlags.osType, "os", "Ubuntu 22.04", "OS label, see catalog")
	f.StringVar(&installFlags.version, "mongo-version", "8.0", "MongoDB release series")
	f.StringVar(&installFlags.keyPath, "key", "", "path to the SSH private key (.pem)")
	_ = installCmd.MarkFlagRequired("primary")
	_ = installCmd.MarkFlagRequired("secondary")
	_ = installCmd.MarkFlagRequired("key")
}

func runInstall(cmd *cobra.Command, args []string) error {
	catalog := domain.DefaultCatalog()
	if !catalog.SupportsOS(installFlags.osType) {
		return fmt.Errorf("%w: %s", services.ErrUnsupportedPlatform, installFlags.osType)
	}
	if !catalog.SupportsVersion(installFlags.version) {
		return fmt.Errorf("%w: %s", services.ErrUnsupportedVersion, installFlags.version)
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	installer, err := wiring.NewInstaller(cfg, log, nil)
	if err != nil {
		return err
	}

	keyPath, err := stageKey(installer.KeyFiles, installFlags.keyPath)
	if err != nil {
		return err
	}

	req := domain.InstallRequest{
		TaskID:      services.NewTaskID(),
		PrimaryIP:   installFlags.primary,
		SecondaryIP: installFlags.secondary,
		OSFamily:    installFlags.osType,
		Version:     installFlags.version,
		KeyPath:     keyPath,
	}
	if err := req.Validate(); err != nil {
		_ = installer.KeyFiles.Remove(keyPath)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go followProgress(cmd.OutOrStdout(), installer.Store, req.TaskID, done)

	runErr := installer.Driver.Run(ctx, req)
	close(done)

	final := installer.Store.Get(req.TaskID)
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", final.Status, final.Message)
	return runErr
}

func stageKey(keyFiles *services.KeyFileStore, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", services.ErrKeyFileMissing, err)
	}
	defer f.Close()
	return keyFiles.Save(filepath.Base(path), f)
}

// followProgress prints every intermediate message until done is closed.
func followProgress(out io.Writer, store *services.TaskStore, taskID string, done <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			record := store.Get(taskID)
			if record.Status == domain.TaskStatusInstalling && record.Message != last {
				fmt.Fprintf(out, "[%s] %s\n", record.Status, record.Message)
				last = record.Message
			}
		}
	}
}
