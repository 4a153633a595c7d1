package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/orderdesk/internal/config"
	"github.com/jkaninda/orderdesk/internal/gateway/cli"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the order assistant in the terminal",
	Long: `Start an interactive session with the order assistant.
When the assistant finds a cancellable order it asks for confirmation;
the order is cancelled only when you answer "y".`,
	RunE: runChat,
}

func runChat(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := initAssistant(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Cleanup()

	gw := cli.NewGateway(a.Sessions, logger)
	go func() {
		<-ctx.Done()
		_ = gw.Stop(context.Background())
	}()
	return gw.Start(ctx)
}
