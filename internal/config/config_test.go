package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, Defaults().Live, cfg.Live)
	require.Equal(t, "/bin/sh", cfg.Shell)
	require.Equal(t, DefaultBlocklist, cfg.Blocklist)
	require.Equal(t, 16, cfg.Tasks.Max)
	require.Empty(t, cfg.API.Addr)
	require.Equal(t, "gdrive:MuxBot", cfg.Transfer.Remote)

	err = cfg.Validate()
	require.ErrorContains(t, err, "telegram.token is required")
	require.ErrorContains(t, err, "telegram.owner_id is required")
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MUXBOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("MUXBOT_TELEGRAM_OWNER_ID", "42")
	t.Setenv("MUXBOT_TELEGRAM_ALLOWED_USERS", "7,8")
	t.Setenv("MUXBOT_LIVE_EDIT_INTERVAL", "500ms")
	t.Setenv("MUXBOT_TASKS_MAX", "3")
	t.Setenv("MUXBOT_API_ADDR", "127.0.0.1:8089")
	t.Setenv("MUXBOT_API_TOKEN", "api-secret")
	t.Setenv("MUXBOT_TRANSFER_REMOTE", "backup:media")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, int64(42), cfg.Telegram.OwnerID)
	require.Equal(t, []int64{7, 8}, cfg.Telegram.AllowedUsers)
	require.Equal(t, 500*time.Millisecond, cfg.Live.EditInterval)
	require.Equal(t, 3, cfg.Tasks.Max)
	require.Equal(t, "127.0.0.1:8089", cfg.API.Addr)
	require.Equal(t, "api-secret", cfg.API.Token)
	require.Equal(t, "backup:media", cfg.Transfer.Remote)
	require.NoError(t, cfg.Validate())
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BOT_TOKEN", "legacy-token")
	t.Setenv("OWNER_ID", "99")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, "legacy-token", cfg.Telegram.Token)
	require.Equal(t, int64(99), cfg.Telegram.OwnerID)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  token: file-token
  owner_id: 5
  allowed_chats: [-100123]
workdir: /srv/media
live:
  tail_lines: 10
blocklist:
  - dd if=
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, "file-token", cfg.Telegram.Token)
	require.Equal(t, []int64{-100123}, cfg.Telegram.AllowedChats)
	require.Equal(t, "/srv/media", cfg.WorkDir)
	require.Equal(t, 10, cfg.Live.TailLines)
	require.Equal(t, 2*time.Second, cfg.Live.EditInterval)
	require.Equal(t, []string{"dd if="}, cfg.Blocklist)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_DefaultFileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "muxbot.yaml"), []byte("shell: /bin/bash\n"), 0o600))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, "/bin/bash", cfg.Shell)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate_Ranges(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "t"
	cfg.Telegram.OwnerID = 1
	require.NoError(t, cfg.Validate())

	cfg.Live.MaxMessageLength = 5000
	cfg.Live.TailLines = 0
	err := cfg.Validate()
	require.ErrorContains(t, err, "max_message_length")
	require.ErrorContains(t, err, "tail_lines")

	cfg = Defaults()
	cfg.Telegram.Token = "t"
	cfg.Telegram.OwnerID = 1
	cfg.Transfer.Remote = "gdrive"
	require.ErrorContains(t, cfg.Validate(), "transfer.remote")
}

func TestValidate_APIRequiresToken(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "t"
	cfg.Telegram.OwnerID = 1
	cfg.API.Addr = "127.0.0.1:8089"
	require.ErrorContains(t, cfg.Validate(), "api.token is required")

	cfg.API.Token = "secret"
	require.NoError(t, cfg.Validate())
}

func TestAuthorized(t *testing.T) {
	tg := TelegramConfig{
		OwnerID:      1,
		AllowedUsers: []int64{2},
		AllowedChats: []int64{-300},
	}

	require.True(t, tg.Authorized(1, 10))
	require.True(t, tg.Authorized(2, 10))
	require.True(t, tg.Authorized(3, -300))
	require.False(t, tg.Authorized(3, 10))
}
