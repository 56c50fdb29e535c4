package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cdphost/bridge/internal/config"
	"github.com/cdphost/bridge/internal/registry"
)

// TargetsOptions holds the "targets" command's resolved configuration.
type TargetsOptions struct {
	cfg config.Config
	log *logrus.Entry
}

// NewTargetsOptions returns an empty TargetsOptions populated by Complete.
func NewTargetsOptions() *TargetsOptions {
	return &TargetsOptions{}
}

// NewTargetsCommand creates the "cdphost targets" diagnostic command, which
// exercises the Target Registry standalone against a running browser.
func NewTargetsCommand(o *TargetsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List debuggable targets exposed by the browser's discovery endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
	}
}

// Complete loads configuration from the environment and prepares a quiet
// logger (this command prints results to stdout, not the log stream).
func (o *TargetsOptions) Complete() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	o.cfg = cfg

	base := logrus.New()
	base.SetLevel(logrus.WarnLevel)
	o.log = logrus.NewEntry(base)
	return nil
}

// Run lists every target and prints them as indented JSON.
func (o *TargetsOptions) Run(ctx context.Context) error {
	reg := registry.New(o.cfg.BrowserEndpoint, o.log)
	targets, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	fmt.Println(marshalForLog(targets))
	return nil
}
