package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"replyfeed/internal/driver/telegram"
	"replyfeed/internal/feed"
	"replyfeed/internal/store"
	"replyfeed/pkg/replyfeed"
)

const (
	envConfigFile           = "THREADTAIL_CONFIG_FILE"
	defaultConfigFilePath   = "config/threadtail.json"
	alternateConfigFilePath = "bin/config/threadtail.json"
	defaultSessionFilePath  = ".cache/telegram/session.json"
	defaultAuthTimeout      = 3 * time.Minute
	defaultLimitBefore      = 20
	defaultPageSize         = 50
)

type appConfig struct {
	logLevel slog.Level

	appID        int
	appHash      string
	sessionFile  string
	phone        string
	code         string
	password     string
	authTimeout  time.Duration
	updateBuffer int

	thread      replyfeed.Thread
	anchor      int64
	limitBefore int
	limitAfter  int
	pageSize    int

	peers map[int64]tg.InputPeerClass
}

type fileConfig struct {
	LogLevel string             `json:"log_level"`
	Telegram fileTelegramConfig `json:"telegram"`
	Thread   fileThreadConfig   `json:"thread"`
	View     fileViewConfig     `json:"view"`
	Peers    []filePeerEntry    `json:"peers"`
}

type fileTelegramConfig struct {
	AppID        int    `json:"app_id"`
	AppHash      string `json:"app_hash"`
	SessionFile  string `json:"session_file"`
	Phone        string `json:"phone"`
	Code         string `json:"code"`
	Password     string `json:"password"`
	AuthTimeout  string `json:"auth_timeout"`
	UpdateBuffer *int   `json:"update_buffer"`
}

type fileThreadConfig struct {
	PeerID int64 `json:"peer_id"`
	RootID int64 `json:"root_id"`
}

type fileViewConfig struct {
	Anchor      int64 `json:"anchor"`
	LimitBefore *int  `json:"limit_before"`
	LimitAfter  *int  `json:"limit_after"`
	PageSize    *int  `json:"page_size"`
}

type filePeerEntry struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	AccessHash int64  `json:"access_hash"`
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionStorage, err := newSessionStorage(cfg.sessionFile)
	if err != nil {
		return fmt.Errorf("new session storage: %w", err)
	}

	zapLogger, err := zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		return fmt.Errorf("new transport logger: %w", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	updates := telegram.NewUpdateChannel(cfg.updateBuffer)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: sessionStorage,
		Logger:         zapLogger.Named("gotd"),
	})

	err = client.Run(ctx, func(runCtx context.Context) error {
		if err := authenticate(runCtx, logger, client, cfg); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		return tail(runCtx, logger, client, updates, cfg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run telegram client: %w", err)
	}

	return nil
}

// tail wires the feed stack over an authenticated session and follows one
// thread until the context ends: slices and thread length go to the log,
// live updates flow back into the feed.
func tail(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	updates *telegram.UpdateChannel,
	cfg appConfig,
) error {
	messageStore := store.New()

	fetcher, err := telegram.NewFetcher(
		client.API(),
		telegram.NewStaticPeers(cfg.peers),
		telegram.WithFetcherLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("new page fetcher: %w", err)
	}

	registry, err := feed.NewRegistry(fetcher, messageStore,
		feed.WithLogger(logger),
		feed.WithPageSize(cfg.pageSize),
		feed.WithPtsSink(func(pts int) {
			logger.Debug("channel pts advanced", "pts", pts)
		}),
	)
	if err != nil {
		return fmt.Errorf("new feed registry: %w", err)
	}
	defer func() {
		_ = registry.Close()
	}()

	watched := make([]int64, 0, len(cfg.peers))
	for peerID := range cfg.peers {
		watched = append(watched, peerID)
	}
	mapper, err := telegram.NewUpdateMapper(messageStore,
		telegram.WithMapperLogger(logger),
		telegram.WithWatchedPeers(watched...),
	)
	if err != nil {
		return fmt.Errorf("new update mapper: %w", err)
	}

	threadFeed, err := registry.Acquire(cfg.thread)
	if err != nil {
		return fmt.Errorf("acquire thread feed: %w", err)
	}
	defer func() {
		_ = registry.Release(cfg.thread)
	}()

	sub, err := threadFeed.Subscribe(ctx, cfg.anchor, cfg.limitBefore, cfg.limitAfter)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	counts, stopCounts, err := threadFeed.TotalCount()
	if err != nil {
		return fmt.Errorf("total count stream: %w", err)
	}
	defer stopCounts()

	logger.Info("following thread",
		"peer", cfg.thread.PeerID, "root", cfg.thread.RootID,
		"anchor", cfg.anchor, "limit_before", cfg.limitBefore, "limit_after", cfg.limitAfter)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return pumpUpdates(groupCtx, logger, updates, mapper, registry)
	})
	group.Go(func() error {
		return pumpSlices(groupCtx, logger, messageStore, cfg.thread, sub)
	})
	group.Go(func() error {
		return pumpCounts(groupCtx, logger, cfg.thread, counts)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func pumpUpdates(
	ctx context.Context,
	logger *slog.Logger,
	updates *telegram.UpdateChannel,
	mapper *telegram.UpdateMapper,
	registry *feed.Registry,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-updates.Updates():
			if !ok {
				return nil
			}
			mapped, err := mapper.Map(ctx, raw)
			if err != nil {
				logger.Warn("dropping unmappable update", "error", err)
				continue
			}
			for _, update := range mapped {
				if err := registry.ApplyUpdate(update); err != nil {
					if errors.Is(err, replyfeed.ErrFeedClosed) {
						return nil
					}
					return fmt.Errorf("apply live update: %w", err)
				}
			}
		}
	}
}

func pumpSlices(
	ctx context.Context,
	logger *slog.Logger,
	messageStore replyfeed.MessageStore,
	thread replyfeed.Thread,
	sub *feed.Subscription,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case slice, ok := <-sub.Slices():
			if !ok {
				return nil
			}
			logger.Info("thread view",
				"peer", thread.PeerID, "root", thread.RootID,
				"ids", slice.IDs,
				"skipped_before", slice.SkippedBefore.String(),
				"skipped_after", slice.SkippedAfter.String(),
				"total", slice.TotalCount.String())
			for _, id := range slice.IDs {
				item, found, err := messageStore.Get(ctx, thread.PeerID, id)
				if err != nil {
					return fmt.Errorf("read item %d: %w", id, err)
				}
				if !found {
					continue
				}
				logger.Info("thread item", "id", id, "from", item.From, "text", item.Text)
			}
		}
	}
}

func pumpCounts(ctx context.Context, logger *slog.Logger, thread replyfeed.Thread, counts <-chan int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case total, ok := <-counts:
			if !ok {
				return nil
			}
			logger.Info("thread length", "peer", thread.PeerID, "root", thread.RootID, "total", total)
		}
	}
}

func authenticate(ctx context.Context, logger *slog.Logger, client *gotdtelegram.Client, cfg appConfig) error {
	authCtx, cancel := context.WithTimeout(ctx, cfg.authTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.Info("telegram session restored from local storage", "session_file", cfg.sessionFile)
		return nil
	}

	if cfg.phone == "" {
		return fmt.Errorf("telegram phone number is required for login; configure telegram.phone")
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		code, err := loginCode(cfg.code)
		if err != nil {
			return "", fmt.Errorf("resolve login code: %w", err)
		}
		return code, nil
	})

	var authenticator auth.UserAuthenticator = auth.CodeOnly(cfg.phone, codeAuthenticator)
	if cfg.password != "" {
		authenticator = auth.Constant(cfg.phone, cfg.password, codeAuthenticator)
	}

	if err := client.Auth().IfNecessary(authCtx, auth.NewFlow(authenticator, auth.SendCodeOptions{})); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	logger.Info("telegram authorized with user flow", "session_file", cfg.sessionFile)

	return nil
}

func loginCode(configuredCode string) (string, error) {
	if code := strings.TrimSpace(configuredCode); code != "" {
		return code, nil
	}

	stdinInfo, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin status: %w", err)
	}
	if stdinInfo.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("telegram.code is empty and stdin is not interactive")
	}

	fmt.Fprint(os.Stdout, "Enter Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty login code")
	}

	return code, nil
}

func newSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

func loadConfig() (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:    slog.LevelInfo,
		sessionFile: defaultSessionFilePath,
		authTimeout: defaultAuthTimeout,
		limitBefore: defaultLimitBefore,
		pageSize:    defaultPageSize,
		peers:       make(map[int64]tg.InputPeerClass),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	cfg.appID = parsed.Telegram.AppID
	cfg.appHash = strings.TrimSpace(parsed.Telegram.AppHash)
	cfg.phone = strings.TrimSpace(parsed.Telegram.Phone)
	cfg.code = strings.TrimSpace(parsed.Telegram.Code)
	cfg.password = strings.TrimSpace(parsed.Telegram.Password)
	if sessionFile := strings.TrimSpace(parsed.Telegram.SessionFile); sessionFile != "" {
		cfg.sessionFile = sessionFile
	}
	if rawTimeout := strings.TrimSpace(parsed.Telegram.AuthTimeout); rawTimeout != "" {
		timeout, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse telegram.auth_timeout: %w", err)
		}
		if timeout <= 0 {
			return fmt.Errorf("parse telegram.auth_timeout: must be > 0")
		}
		cfg.authTimeout = timeout
	}
	if parsed.Telegram.UpdateBuffer != nil {
		if *parsed.Telegram.UpdateBuffer <= 0 {
			return fmt.Errorf("parse telegram.update_buffer: must be > 0")
		}
		cfg.updateBuffer = *parsed.Telegram.UpdateBuffer
	}

	cfg.thread = replyfeed.Thread{
		PeerID: parsed.Thread.PeerID,
		RootID: parsed.Thread.RootID,
	}

	cfg.anchor = parsed.View.Anchor
	if parsed.View.LimitBefore != nil {
		cfg.limitBefore = *parsed.View.LimitBefore
	}
	if parsed.View.LimitAfter != nil {
		cfg.limitAfter = *parsed.View.LimitAfter
	}
	if parsed.View.PageSize != nil {
		if *parsed.View.PageSize <= 0 {
			return fmt.Errorf("parse view.page_size: must be > 0")
		}
		cfg.pageSize = *parsed.View.PageSize
	}

	cfg.peers = make(map[int64]tg.InputPeerClass, len(parsed.Peers))
	for index, entry := range parsed.Peers {
		input, err := parsePeerEntry(entry)
		if err != nil {
			return fmt.Errorf("parse peers[%d]: %w", index, err)
		}
		cfg.peers[entry.ID] = input
	}

	return nil
}

func parsePeerEntry(entry filePeerEntry) (tg.InputPeerClass, error) {
	if entry.ID == 0 {
		return nil, fmt.Errorf("id is required")
	}

	switch strings.ToLower(strings.TrimSpace(entry.Type)) {
	case "channel":
		return &tg.InputPeerChannel{ChannelID: entry.ID, AccessHash: entry.AccessHash}, nil
	case "chat":
		return &tg.InputPeerChat{ChatID: entry.ID}, nil
	case "user":
		return &tg.InputPeerUser{UserID: entry.ID, AccessHash: entry.AccessHash}, nil
	default:
		return nil, fmt.Errorf("unsupported peer type %q", entry.Type)
	}
}

func validateAppConfig(cfg *appConfig) error {
	if cfg.appID <= 0 {
		return fmt.Errorf("telegram.app_id must be > 0")
	}
	if cfg.appHash == "" {
		return fmt.Errorf("telegram.app_hash is required")
	}
	if cfg.thread.PeerID == 0 || cfg.thread.RootID == 0 {
		return fmt.Errorf("thread.peer_id and thread.root_id are required")
	}
	if _, found := cfg.peers[cfg.thread.PeerID]; !found {
		return fmt.Errorf("peers must include an entry for thread peer %d", cfg.thread.PeerID)
	}
	if cfg.anchor < 0 {
		return fmt.Errorf("view.anchor must be >= 0")
	}
	if cfg.limitBefore < 0 || cfg.limitAfter < 0 {
		return fmt.Errorf("view limits must be >= 0")
	}
	if cfg.limitBefore == 0 && cfg.limitAfter == 0 {
		return fmt.Errorf("at least one of view.limit_before and view.limit_after must be > 0")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}
