package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cwrk-planet/vidcon/internal/media"
	"github.com/cwrk-planet/vidcon/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	serverKey      = "server"
	signalKey      = "signal"
	tokenKey       = "token"
	usernameKey    = "username"
	joinTimeoutKey = "join_timeout"
	reconnectMin   = "feed.reconnect_min"
	reconnectMax   = "feed.reconnect_max"
	videoWidthKey  = "media.width"
	videoHeightKey = "media.height"
	frameRateKey   = "media.frame_rate"
	audioKey       = "media.audio"
	logLevelKey    = "log_level"
)

// Options: зависимости, которые выбирает main (драйверы устройств, вывод).
type Options struct {
	// NewCapturer строит источник медиа по конфигу; nil: устройства по умолчанию.
	NewCapturer func(media.DeviceConfig) media.Capturer
	Out         io.Writer
	In          io.Reader
}

// NewRootCmd собирает дерево команд клиента. Конфиг: флаги > VIDCON_* > файл > дефолты.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.NewCapturer == nil {
		opts.NewCapturer = func(cfg media.DeviceConfig) media.Capturer { return media.NewDeviceCapturer(cfg) }
	}

	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "vidcon",
		Short:         "Meeting room client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(v, cfgFile); err != nil {
				return err
			}
			logger.Init(logger.Config{
				Service: "vidcon",
				Env:     logger.EnvDev,
				Backend: logger.BackendStd,
				Level:   logger.ParseLevel(v.GetString(logLevelKey)),
				Output:  cmd.ErrOrStderr(),
			})
			return nil
		},
	}
	root.SetOut(opts.Out)
	root.SetIn(opts.In)

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.vidcon.yaml)")
	pf.String("server", "http://localhost:8080", "gateway base URL")
	pf.String("signal", "ws://localhost:3000/ws", "signaling server URL")
	pf.String("token", "", "bearer token for the gateway")
	pf.Duration("join-timeout", 10*time.Second, "timeout for store and signaling calls during join")
	pf.String("log-level", "warn", "debug|info|warn|error")

	_ = v.BindPFlag(serverKey, pf.Lookup("server"))
	_ = v.BindPFlag(signalKey, pf.Lookup("signal"))
	_ = v.BindPFlag(tokenKey, pf.Lookup("token"))
	_ = v.BindPFlag(joinTimeoutKey, pf.Lookup("join-timeout"))
	_ = v.BindPFlag(logLevelKey, pf.Lookup("log-level"))

	v.SetDefault(reconnectMin, 500*time.Millisecond)
	v.SetDefault(reconnectMax, 30*time.Second)
	v.SetDefault(videoWidthKey, 480)
	v.SetDefault(videoHeightKey, 360)
	v.SetDefault(frameRateKey, 30.0)
	v.SetDefault(audioKey, true)

	root.AddCommand(newJoinCmd(v, opts))
	return root
}

func loadConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".vidcon")
	}

	v.SetEnvPrefix("VIDCON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
