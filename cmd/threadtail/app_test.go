package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads all supported fields from config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "threadtail.json")
		writeConfigFile(t, configPath, `{
			"log_level":"warn",
			"telegram":{
				"app_id":123456,
				"app_hash":"sample_hash",
				"session_file":"state/telegram/session.json",
				"phone":"+15550001111",
				"code":"998877",
				"password":"secret",
				"auth_timeout":"4m",
				"update_buffer":222
			},
			"thread":{"peer_id":1001,"root_id":7000},
			"view":{"anchor":45,"limit_before":10,"limit_after":5,"page_size":25},
			"peers":[
				{"id":1001,"type":"channel","access_hash":987654}
			]
		}`)
		t.Setenv(envConfigFile, configPath)

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelWarn {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
		}
		if cfg.appID != 123456 || cfg.appHash != "sample_hash" {
			t.Fatalf("telegram identity = %d/%q", cfg.appID, cfg.appHash)
		}
		if cfg.sessionFile != "state/telegram/session.json" {
			t.Fatalf("session file = %q", cfg.sessionFile)
		}
		if cfg.authTimeout != 4*time.Minute {
			t.Fatalf("auth timeout = %v, want 4m", cfg.authTimeout)
		}
		if cfg.updateBuffer != 222 {
			t.Fatalf("update buffer = %d, want 222", cfg.updateBuffer)
		}
		if cfg.thread.PeerID != 1001 || cfg.thread.RootID != 7000 {
			t.Fatalf("thread = %+v", cfg.thread)
		}
		if cfg.anchor != 45 || cfg.limitBefore != 10 || cfg.limitAfter != 5 {
			t.Fatalf("view = anchor %d limits %d/%d", cfg.anchor, cfg.limitBefore, cfg.limitAfter)
		}
		if cfg.pageSize != 25 {
			t.Fatalf("page size = %d, want 25", cfg.pageSize)
		}
		channel, ok := cfg.peers[1001].(*tg.InputPeerChannel)
		if !ok || channel.ChannelID != 1001 || channel.AccessHash != 987654 {
			t.Fatalf("peer 1001 = %#v", cfg.peers[1001])
		}
	})

	t.Run("applies defaults for optional fields", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "threadtail.json")
		writeConfigFile(t, configPath, `{
			"telegram":{"app_id":123456,"app_hash":"sample_hash"},
			"thread":{"peer_id":1001,"root_id":7000},
			"peers":[{"id":1001,"type":"channel","access_hash":987654}]
		}`)
		t.Setenv(envConfigFile, configPath)

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelInfo {
			t.Fatalf("log level = %v, want info", cfg.logLevel)
		}
		if cfg.sessionFile != defaultSessionFilePath {
			t.Fatalf("session file = %q, want default", cfg.sessionFile)
		}
		if cfg.limitBefore != defaultLimitBefore || cfg.limitAfter != 0 {
			t.Fatalf("limits = %d/%d, want %d/0", cfg.limitBefore, cfg.limitAfter, defaultLimitBefore)
		}
		if cfg.pageSize != defaultPageSize {
			t.Fatalf("page size = %d, want %d", cfg.pageSize, defaultPageSize)
		}
	})

	t.Run("rejects invalid configurations", func(t *testing.T) {
		tests := []struct {
			name             string
			contents         string
			wantErrSubstring string
		}{
			{
				name: "missing app hash",
				contents: `{
					"telegram":{"app_id":123456},
					"thread":{"peer_id":1001,"root_id":7000},
					"peers":[{"id":1001,"type":"channel"}]
				}`,
				wantErrSubstring: "telegram.app_hash is required",
			},
			{
				name: "missing thread",
				contents: `{
					"telegram":{"app_id":123456,"app_hash":"sample_hash"},
					"peers":[{"id":1001,"type":"channel"}]
				}`,
				wantErrSubstring: "thread.peer_id and thread.root_id are required",
			},
			{
				name: "thread peer not resolvable",
				contents: `{
					"telegram":{"app_id":123456,"app_hash":"sample_hash"},
					"thread":{"peer_id":2002,"root_id":7000},
					"peers":[{"id":1001,"type":"channel"}]
				}`,
				wantErrSubstring: "peers must include an entry for thread peer 2002",
			},
			{
				name: "empty viewport",
				contents: `{
					"telegram":{"app_id":123456,"app_hash":"sample_hash"},
					"thread":{"peer_id":1001,"root_id":7000},
					"view":{"limit_before":0,"limit_after":0},
					"peers":[{"id":1001,"type":"channel"}]
				}`,
				wantErrSubstring: "at least one of view.limit_before and view.limit_after",
			},
			{
				name: "unsupported peer type",
				contents: `{
					"telegram":{"app_id":123456,"app_hash":"sample_hash"},
					"thread":{"peer_id":1001,"root_id":7000},
					"peers":[{"id":1001,"type":"group"}]
				}`,
				wantErrSubstring: "unsupported peer type",
			},
		}

		for _, testCase := range tests {
			testCase := testCase
			t.Run(testCase.name, func(t *testing.T) {
				configPath := filepath.Join(t.TempDir(), "threadtail.json")
				writeConfigFile(t, configPath, testCase.contents)
				t.Setenv(envConfigFile, configPath)

				_, err := loadConfig()
				if err == nil {
					t.Fatal("expected load config to fail")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
			})
		}
	})
}

func TestParsePeerEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry filePeerEntry
		want  tg.InputPeerClass
	}{
		{
			name:  "channel",
			entry: filePeerEntry{ID: 1001, Type: "channel", AccessHash: 42},
			want:  &tg.InputPeerChannel{ChannelID: 1001, AccessHash: 42},
		},
		{
			name:  "chat",
			entry: filePeerEntry{ID: 2002, Type: "chat"},
			want:  &tg.InputPeerChat{ChatID: 2002},
		},
		{
			name:  "user",
			entry: filePeerEntry{ID: 3003, Type: "user", AccessHash: 7},
			want:  &tg.InputPeerUser{UserID: 3003, AccessHash: 7},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			got, err := parsePeerEntry(testCase.entry)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if got.String() != testCase.want.String() {
				t.Fatalf("peer = %#v, want %#v", got, testCase.want)
			}
		})
	}
}
