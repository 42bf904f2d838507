package config

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, fsys afero.Fs, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, "config/config.dev.yaml", []byte(body), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	cfg, err := NewLoader(afero.NewMemMapFs(), nil).Load()
	require.NoError(t, err)

	require.Equal(t, "release", cfg.Mode)
	require.Equal(t, "ws://localhost:4444", cfg.ControlURL)
	require.Equal(t, 150*time.Millisecond, cfg.SpeakingThrottle)
	require.Equal(t, uint16(5000), cfg.RTC.PortMin)
	require.Equal(t, uint16(6000), cfg.RTC.PortMax)
	require.Equal(t, JoinKeyByProducer, cfg.JoinBatchKeying)
	require.Equal(t, SuppressOmit, cfg.SpeakingSuppression)
	require.Equal(t, DefaultStunServers, cfg.STUNServers)
	require.Equal(t, 500*time.Millisecond, cfg.Reconnect.InitialInterval)
	require.Equal(t, 5, cfg.OfferRate.Limit)
	require.Equal(t, 10*time.Second, cfg.OfferRate.Interval)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	fsys := afero.NewMemMapFs()
	writeConfig(t, fsys, `
mode: debug
control_url: ws://central:9000
speaking_throttle: 200ms
join_batch_keying: joiner
speaking_suppression: zero
rtc:
  port_min: 7000
  port_max: 7100
`)
	cfg, err := NewLoader(fsys, nil).Load()
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, "ws://central:9000", cfg.ControlURL)
	require.Equal(t, 200*time.Millisecond, cfg.SpeakingThrottle)
	require.Equal(t, JoinKeyByJoiner, cfg.JoinBatchKeying)
	require.Equal(t, SuppressZero, cfg.SpeakingSuppression)
	require.Equal(t, uint16(7000), cfg.RTC.PortMin)
}

func TestLoad_EnvAndFlagsOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	t.Setenv("MEDIARELAY_RTC_PORT_MAX", "5500")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--control-url", "ws://flag:1"}))

	cfg, err := NewLoader(afero.NewMemMapFs(), flags).Load()
	require.NoError(t, err)
	require.Equal(t, "ws://flag:1", cfg.ControlURL)
	require.Equal(t, uint16(5500), cfg.RTC.PortMax)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	cases := map[string]string{
		"bad keying":     "join_batch_keying: sideways\n",
		"bad mode":       "mode: loud\n",
		"inverted ports": "rtc:\n  port_min: 6000\n  port_max: 5000\n",
		"bad public ip":  "public_ip: not-an-ip\n",
		"zero workers":   "fanout_workers: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			writeConfig(t, fsys, body)
			_, err := NewLoader(fsys, nil).Load()
			require.Error(t, err)
		})
	}
}

func TestDeterminePublicIP_Override(t *testing.T) {
	cfg := &Config{PublicIP: "203.0.113.7"}
	require.Equal(t, "203.0.113.7", cfg.DeterminePublicIP(context.Background()))
}

func TestGetExternalIP_NoServers(t *testing.T) {
	_, err := GetExternalIP(context.Background(), nil)
	require.Error(t, err)
}
