// Package ircfallback wraps an IRC chat connection as an optional
// collaborator for held-message notices: IRC already delivers these
// independent of EventSub, so a deployment can rely on this instead of
// subscribing the user_message_hold topic (see
// eventsub.ManagerConfig.EnableUserMessageHeldTopic).
package ircfallback

import (
	"context"
	"strings"
	"sync"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/tduva/eventsub-go/internal/logger"
)

// HeldMessageFunc receives a held-message notice surfaced over IRC.
type HeldMessageFunc func(channel, nick, message string)

// Manager maintains IRC presence in a set of channels, joined and left one
// at a time through Join/Leave, and forwards held-message notices to a
// callback.
type Manager struct {
	mu sync.Mutex

	client *twitch.Client

	username string
	channels map[string]bool
	running  bool

	onHeld HeldMessageFunc
	log    *logger.Logger
}

// NewManager creates an IRC fallback Manager authenticated as username.
func NewManager(username, authToken string, onHeld HeldMessageFunc, log *logger.Logger) *Manager {
	client := twitch.NewClient(username, "oauth:"+authToken)

	m := &Manager{
		client:   client,
		username: strings.ToLower(username),
		channels: make(map[string]bool),
		onHeld:   onHeld,
		log:      log,
	}

	client.OnConnect(func() {
		m.log.Info("connected to IRC held-message fallback")
	})
	client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		m.log.Info("reconnected to IRC held-message fallback")
	})
	client.OnSelfJoinMessage(func(msg twitch.UserJoinMessage) {
		m.log.Debug("joined IRC channel", "channel", msg.Channel)
	})
	client.OnUserNoticeMessage(m.handleUserNotice)

	return m
}

// heldMessageNoticeIDs are the IRC USERNOTICE msg-id values the upstream
// platform uses to report a message held for moderator review. AutoMod and
// low-trust holds both surface this way over IRC.
var heldMessageNoticeIDs = map[string]bool{
	"automod_message_hold":    true,
	"low_trust_user_treatment": true,
}

func (m *Manager) handleUserNotice(msg twitch.UserNoticeMessage) {
	msgID := msg.MsgID
	if !heldMessageNoticeIDs[msgID] {
		return
	}
	if m.onHeld != nil {
		m.onHeld(msg.Channel, msg.User.DisplayName, msg.Message)
	}
	m.log.Event(context.Background(), logger.EventChatMention, "held message notice received over IRC",
		"channel", msg.Channel, "msg_id", msgID)
}

// Join adds channel to the set of channels this fallback watches.
func (m *Manager) Join(channel string) {
	channel = strings.ToLower(channel)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[channel] {
		return
	}
	m.channels[channel] = true
	m.client.Join(channel)
}

// Leave removes channel from the set this fallback watches.
func (m *Manager) Leave(channel string) {
	channel = strings.ToLower(channel)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.channels[channel] {
		return
	}
	delete(m.channels, channel)
	m.client.Depart(channel)
}

// Run connects and blocks until ctx is cancelled; go-twitch-irc handles
// PING/PONG keepalive and its own reconnects internally.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.client.Connect()
	}()

	select {
	case <-ctx.Done():
		m.Close()
		return ctx.Err()
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			m.log.Error("IRC fallback connection error", "error", err)
			return err
		}
		return ctx.Err()
	}
}

// Close disconnects and forgets every joined channel.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	for channel := range m.channels {
		m.client.Depart(channel)
	}
	m.channels = make(map[string]bool)
	if err := m.client.Disconnect(); err != nil {
		m.log.Debug("IRC fallback disconnect", "error", err)
	}
}
