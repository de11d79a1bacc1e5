package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sioux-io/gobayeux"
)

func watchCmd() *cobra.Command {
	var (
		buffer  uint
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <channel>...",
		Short: "Subscribe to channels and print events until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := gobayeux.NewClient(ctx, address, clientOptions()...)
			if err != nil {
				return err
			}
			defer func() {
				disconnectCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := client.Disconnect(disconnectCtx); err != nil {
					logger.WithError(err).Debug("disconnect failed")
				}
			}()
			client.SetSubscribeTimeout(timeout)

			output := make(chan []gobayeux.Message, buffer)
			g, ctx := errgroup.WithContext(ctx)
			// the printer runs first: Subscribe hands over events that
			// arrive while it waits for its acknowledgement
			g.Go(func() error {
				for {
					select {
					case ms := <-output:
						renderMessages(cmd.OutOrStdout(), ms)
					case <-ctx.Done():
						return nil
					}
				}
			})
			g.Go(func() error {
				for _, name := range args {
					if err := client.Subscribe(ctx, gobayeux.Channel(name), output); err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					logger.WithField("channel", name).Info("subscribed")
				}
				err, ok := <-client.Start(ctx)
				if !ok || ctx.Err() != nil {
					return nil
				}
				return err
			})
			return g.Wait()
		},
	}
	cmd.Flags().UintVar(&buffer, "buffer", 100, "the number of event batches to buffer")
	cmd.Flags().DurationVar(&timeout, "subscribe-timeout", gobayeux.DefaultSubscribeTimeout, "how long to wait for each subscription to be acknowledged")
	return cmd
}
