package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cwrk-planet/vidcon/internal/client"
	"github.com/cwrk-planet/vidcon/internal/coordinator"
	"github.com/cwrk-planet/vidcon/internal/domain"
	"github.com/cwrk-planet/vidcon/internal/media"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newJoinCmd(v *viper.Viper, opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a meeting room and open the interactive prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := v.GetString(usernameKey)
			if username == "" {
				return errors.New("--user is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, v, opts, cmd, args[0], username)
		},
	}
	cmd.Flags().StringP("user", "u", "", "display name in the room")
	_ = v.BindPFlag(usernameKey, cmd.Flags().Lookup("user"))
	return cmd
}

func runSession(ctx context.Context, v *viper.Viper, opts Options, cmd *cobra.Command, roomID, username string) error {
	out := cmd.OutOrStdout()
	token := v.GetString(tokenKey)
	joinTimeout := v.GetDuration(joinTimeoutKey)

	store := client.NewHTTPStore(v.GetString(serverKey), token, joinTimeout)
	signaler := client.NewSignaler(v.GetString(signalKey), token)
	defer signaler.Close()

	feed := client.NewFeed(client.FeedConfig{
		URL:          v.GetString(serverKey),
		Token:        token,
		ReconnectMin: v.GetDuration(reconnectMin),
		ReconnectMax: v.GetDuration(reconnectMax),
	})

	capturer := opts.NewCapturer(media.DeviceConfig{
		Width:     v.GetInt(videoWidthKey),
		Height:    v.GetInt(videoHeightKey),
		FrameRate: v.GetFloat64(frameRateKey),
		Audio:     v.GetBool(audioKey),
	})

	view := newView(out)
	coord := coordinator.New(store, signaler, capturer, coordinator.Config{
		JoinTimeout: joinTimeout,
		OnChange:    view.state,
		OnMessage:   view.message,
		Logger:      slog.Default(),
	})
	repl := NewREPL(coord, coordinator.NewBreakoutManager(coord), out)

	// координатор живёт дольше фида и REPL: при отмене его ctx он сам выходит из комнаты
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	runErr := make(chan error, 1)
	go func() { runErr <- coord.Run(runCtx) }()
	stopCoord := func() error {
		cancelRun()
		if err := <-runErr; !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	if err := coord.Join(ctx, roomID, username); err != nil {
		_ = stopCoord()
		return fmt.Errorf("join %s: %w", roomID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feed.Run(gctx, func(ev domain.ChangeEvent) {
			if err := coord.HandleEvent(gctx, ev); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("feed event dropped", "err", err)
			}
		}, func() {
			if err := coord.Resync(gctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("resync failed", "err", err)
			}
		})
	})
	g.Go(func() error {
		return repl.Run(gctx, cmd.InOrStdin())
	})

	err := g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, stopCoord())
}
