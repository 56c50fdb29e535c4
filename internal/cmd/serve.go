package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cdphost/bridge/internal/config"
	"github.com/cdphost/bridge/internal/dispatcher"
	"github.com/cdphost/bridge/internal/registry"
	"github.com/cdphost/bridge/internal/transport"
)

// ServeOptions holds the "serve" command's resolved configuration.
type ServeOptions struct {
	cfg config.Config
	log *logrus.Entry
}

// NewServeOptions returns an empty ServeOptions populated by Complete.
func NewServeOptions() *ServeOptions {
	return &ServeOptions{}
}

// NewServeCommand creates the "cdphost serve" command.
func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CDP session bridge host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(); err != nil {
				return err
			}
			return o.Run()
		},
	}
	return cmd
}

// Complete loads configuration from the environment and prepares the root
// logger.
func (o *ServeOptions) Complete() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	o.cfg = cfg

	base := logrus.New()
	base.SetLevel(cfg.LogLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	o.log = logrus.NewEntry(base).WithField("component", "cmd")
	return nil
}

// Run wires the Target Registry, Tool Dispatcher, and Duplex Transport
// together and serves until interrupted.
func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(o.cfg.BrowserEndpoint, o.log)
	disp := dispatcher.New(reg, o.log)

	handler := func(ctx context.Context, env transport.Envelope) (interface{}, *transport.ToolErrorPayload) {
		result, toolErr := disp.Dispatch(ctx, dispatcher.ToolCall{Name: env.ToolName, Arguments: env.Arguments}, env.TabID)
		if toolErr != nil {
			return nil, &transport.ToolErrorPayload{Code: toolErr.Code, Message: toolErr.Message}
		}
		return result, nil
	}
	hub := transport.New(handler, o.log)

	srv := &http.Server{Addr: o.cfg.ListenAddr, Handler: hub}
	errc := make(chan error, 1)
	go func() {
		o.log.WithField("addr", o.cfg.ListenAddr).Info("duplex transport listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		o.log.Info("shutting down")
		return srv.Shutdown(context.Background())
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// marshalForLog pretty-prints a value as indented JSON; the targets
// diagnostic command uses it to print its result.
func marshalForLog(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}
