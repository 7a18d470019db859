// Command eventsubd is the entry point for the EventSub subscription
// manager. It loads configuration, opens the WebSocket session pool,
// subscribes the default topic set for every configured channel, and
// manages graceful shutdown via OS signals.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tduva/eventsub-go/internal/api"
	"github.com/tduva/eventsub-go/internal/auth"
	"github.com/tduva/eventsub-go/internal/config"
	"github.com/tduva/eventsub-go/internal/eventsub"
	"github.com/tduva/eventsub-go/internal/ircfallback"
	"github.com/tduva/eventsub-go/internal/logger"
	"github.com/tduva/eventsub-go/internal/notify"
	"github.com/tduva/eventsub-go/internal/server"
	"github.com/tduva/eventsub-go/internal/workerpool"

	"github.com/joho/godotenv"
	"golang.org/x/term"
)

const banner = `
╔═══════════════════════════════════════╗
║     EventSub Subscription Manager      ║
╚═══════════════════════════════════════╝
`

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides LOG_LEVEL env)")
	noColor := flag.Bool("no-color", false, "Disable colored output (overrides TTY detection)")
	httpAddr := flag.String("http-addr", ":8080", "Address for the status HTTP server")
	flag.Parse()

	_ = godotenv.Load()

	level := slog.LevelInfo
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	} else if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = logger.ParseLevel(envLevel)
	}

	colored := !*noColor && term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	rootLog, err := logger.Setup(logger.Config{
		Level:       level,
		Colored:     colored,
		LogDir:      cfg.LogDir,
		AccountName: cfg.Username,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}

	if err := config.Validate(cfg); err != nil {
		rootLog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher(cfg.Notifications, rootLog)
	if dispatcher.HasNotifiers() {
		rootLog.SetNotifyFunc(dispatcher.NotifyFunc())
	}

	fmt.Print(banner)
	rootLog.Info("Starting EventSub subscription manager", "channels", len(cfg.Channels))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		rootLog.Info("Received shutdown signal", "signal", sig.String())
		cancel()

		time.AfterFunc(30*time.Second, func() {
			rootLog.Error("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		})
	}()

	authenticator := auth.NewAuthenticator(cfg.ClientID, cfg.AuthToken)
	helixClient := api.NewClient(authenticator, cfg.ClientID, rootLog)

	managerCfg := eventsub.ManagerConfig{
		Pool: eventsub.PoolConfig{
			URI:            cfg.WebSocketURL,
			Budget:         cfg.SessionCostBudget,
			MaxSessions:    cfg.MaxSessions,
			WelcomeTimeout: cfg.WelcomeTimeout,
			KeepaliveGrace: cfg.KeepaliveGrace,
			BackoffInitial: cfg.BackoffInitial,
			BackoffMax:     cfg.BackoffMax,
		},
		EnableUserMessageHeldTopic: cfg.EnableUserMessageHeldTopic,
		ResolverCacheSize:          cfg.ResolverCacheSize,
	}

	manager := eventsub.NewManager(managerCfg, helixClient, authenticator, &logListener{log: rootLog}, rootLog)
	manager.Start(ctx)
	defer manager.Disconnect()

	if cfg.Username != "" {
		manager.SetLocalUsername(ctx, cfg.Username)
	}

	var irc *ircfallback.Manager
	if cfg.EnableIRCHeldMessageFallback && cfg.Username != "" {
		irc = ircfallback.NewManager(cfg.Username, cfg.AuthToken, func(channel, nick, message string) {
			rootLog.Info("message held for review", "channel", channel, "user", nick)
		}, rootLog)
		for _, channel := range cfg.Channels {
			irc.Join(channel)
		}
		go func() {
			if err := irc.Run(ctx); err != nil && ctx.Err() == nil {
				rootLog.Error("IRC fallback failed", "error", err)
			}
		}()
	}

	statusServer := server.NewStatusServer(*httpAddr, rootLog)
	statusServer.SetStatusFunc(manager.StatusText)
	statusServer.SetTopicsFunc(manager.TopicsText)
	statusServer.SetAuditFunc(func(ctx context.Context) ([]string, error) {
		orphaned, err := manager.AuditSubscriptions(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(orphaned))
		for _, o := range orphaned {
			ids = append(ids, o.ID)
		}
		return ids, nil
	})
	go func() {
		if err := statusServer.Run(ctx); err != nil && ctx.Err() == nil {
			rootLog.Error("status server failed", "error", err)
		}
	}()

	const warmupWorkers = 4
	if err := workerpool.Run(ctx, cfg.Channels, warmupWorkers, func(ctx context.Context, channel string) error {
		subscribeDefaultTopics(manager, channel)
		return nil
	}); err != nil && ctx.Err() == nil {
		rootLog.Error("default topic subscription failed", "error", err)
	}

	rootLog.Info("EventSub subscription manager ready", "status", manager.StatusText())

	<-ctx.Done()
	rootLog.Info("Shutdown complete")
}

// subscribeDefaultTopics listens the standard topic set for one channel.
// Raid is intentionally excluded: raid topics are driven by the
// deduplicated ListenRaid/UnlistenRaid pair from a higher-level caller that
// knows which channels are actually involved in a raid at a given moment.
func subscribeDefaultTopics(m *eventsub.Manager, channel string) {
	m.ListenPoll(channel)
	m.ListenShield(channel)
	m.ListenShoutouts(channel)
	m.ListenModActions(channel)
	m.ListenAutomod(channel)
	m.ListenSuspicious(channel)
	m.ListenWarnings(channel)
	m.ListenMessageHeld(channel)
	m.ListenPoints(channel)
}

// logListener is the default Listener: every event/info/status line goes to
// the root logger, with decoded notification payloads at debug level.
type logListener struct {
	log *logger.Logger
}

func (l *logListener) Info(text string) {
	l.log.Info(text)
}

func (l *logListener) Event(subscriptionType string, payload json.RawMessage) {
	l.log.Debug("notification received", "type", subscriptionType, "payload", string(payload))
}

func (l *logListener) StatusChanged(summary string) {
	l.log.Info(summary)
}
