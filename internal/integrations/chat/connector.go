// Package chat is the channel integration connector: a persistent
// websocket client that relays mentions of the bot to its agent and posts
// the responses back.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/maestro/internal/integrations"
)

const (
	// reconnectDelay is the fixed backoff between connection attempts.
	reconnectDelay = 3 * time.Second

	// maxLogChars caps the rolling message log.
	maxLogChars = 4000

	// maxChunkChars caps one outgoing chat frame; longer responses are
	// split and sent sequentially.
	maxChunkChars = 7500

	maxNameAttempts = 10
)

// Config declares one chat connector.
type Config struct {
	URL      string
	Channel  string
	BotName  string
	Password string

	// OnQueueDepth observes dispatch queue depth changes, used for
	// metrics.
	OnQueueDepth func(depth int)
}

// Connector is a long-lived websocket client bound to one agent and one
// channel.
type Connector struct {
	agent   string
	cfg     Config
	handler integrations.Handler
	logger  *slog.Logger
	dialer  *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	botName string
	roster  map[string]string

	log   *rollingLog
	queue *integrations.Queue

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a chat connector for one agent.
func New(agent string, cfg Config, handler integrations.Handler, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		agent:   agent,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "chat", "agent", agent, "channel", cfg.Channel),
		dialer:  websocket.DefaultDialer,
		botName: cfg.BotName,
		roster:  make(map[string]string),
		log:     newRollingLog(maxLogChars),
	}
}

// SessionID returns the stable session id this connector dispatches under.
func (c *Connector) SessionID() string {
	return integrations.ChatSessionID(c.agent, c.cfg.Channel)
}

// Start connects and serves events until the context is cancelled,
// reconnecting with a fixed backoff.
func (c *Connector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.queue = integrations.NewQueue(ctx, c.logger)
	if c.cfg.OnQueueDepth != nil {
		c.queue.OnDepth(c.cfg.OnQueueDepth)
	}

	go c.run(ctx)
	return nil
}

// Stop tears the connector down and waits for in-flight dispatches.
func (c *Connector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConn()
	if c.done != nil {
		<-c.done
	}
	if c.queue != nil {
		c.queue.Wait()
	}
}

// RecentMessages returns the rolling channel log, oldest first.
func (c *Connector) RecentMessages() []string { return c.log.Entries() }

// ChannelMembers returns the current member names, sorted.
func (c *Connector) ChannelMembers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.roster))
	for name := range c.roster {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send posts text to the channel, resolving @name mentions and splitting
// long responses into sequential chunks.
func (c *Connector) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	conn := c.conn
	roster := make(map[string]string, len(c.roster))
	for k, v := range c.roster {
		roster[k] = v
	}
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("chat: not connected")
	}

	for _, chunk := range splitChunks(text, maxChunkChars) {
		frame := Frame{
			Type:     frameChat,
			Channel:  c.cfg.Channel,
			Text:     chunk,
			Mentions: resolveMentions(chunk, roster),
		}
		if err := c.write(conn, frame); err != nil {
			return fmt.Errorf("chat: send: %w", err)
		}
	}
	c.log.Append(fmt.Sprintf("%s: %s", c.effectiveBotName(), text))
	return nil
}

func (c *Connector) run(ctx context.Context) {
	defer close(c.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.serve(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("connection lost", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// serve dials, performs the handshake, and reads events until the
// connection drops.
func (c *Connector) serve(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.closeConn()

	if err := c.handshake(conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	c.logger.Info("connected", "bot_name", c.effectiveBotName())

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		c.handleFrame(ctx, frame)
	}
}

// handshake claims the bot name, joins (or creates) the channel, and
// requests the member list. Name collisions retry with a numeric suffix.
func (c *Connector) handshake(conn *websocket.Conn) error {
	name := c.cfg.BotName
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name = suffixedName(c.cfg.BotName, attempt)
		if err := c.write(conn, Frame{Type: frameSetName, Name: name}); err != nil {
			return err
		}
		reply, err := c.awaitFrame(conn, frameNameAccepted, frameNameTaken)
		if err != nil {
			return err
		}
		if reply.Type == frameNameAccepted {
			break
		}
		if attempt == maxNameAttempts-1 {
			return fmt.Errorf("bot name %q unavailable after %d attempts", c.cfg.BotName, maxNameAttempts)
		}
	}
	c.mu.Lock()
	c.botName = name
	c.mu.Unlock()

	join := Frame{
		Type:    frameJoinChannel,
		Channel: c.cfg.Channel,
	}
	if c.cfg.Password != "" {
		join.Private = true
		join.Password = c.cfg.Password
	}
	if err := c.write(conn, join); err != nil {
		return err
	}
	if _, err := c.awaitFrame(conn, frameJoined); err != nil {
		return err
	}

	if err := c.write(conn, Frame{Type: frameGetMembers, Channel: c.cfg.Channel}); err != nil {
		return err
	}
	members, err := c.awaitFrame(conn, frameMembers)
	if err != nil {
		return err
	}
	c.setMembers(members.Members)
	return nil
}

// awaitFrame reads until one of the wanted frame types arrives, handling
// interleaved events along the way.
func (c *Connector) awaitFrame(conn *websocket.Conn, want ...string) (Frame, error) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return Frame{}, err
		}
		for _, w := range want {
			if frame.Type == w {
				return frame, nil
			}
		}
		if frame.Type == frameError {
			return Frame{}, fmt.Errorf("server error: %s", frame.Error)
		}
		c.handleFrame(context.Background(), frame)
	}
}

func (c *Connector) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case frameUserJoined:
		c.mu.Lock()
		c.roster[frame.Name] = frame.UserID
		c.mu.Unlock()

	case frameUserLeft:
		c.mu.Lock()
		delete(c.roster, frame.Name)
		c.mu.Unlock()

	case frameMembers:
		c.setMembers(frame.Members)

	case frameChat:
		c.mu.Lock()
		if frame.Sender != "" && frame.SenderID != "" {
			c.roster[frame.Sender] = frame.SenderID
		}
		c.mu.Unlock()
		c.log.Append(fmt.Sprintf("%s: %s", frame.Sender, frame.Text))
		c.maybeDispatch(ctx, frame)
	}
}

// maybeDispatch queues an agent invocation when the bot is mentioned by
// someone else.
func (c *Connector) maybeDispatch(ctx context.Context, frame Frame) {
	botName := c.effectiveBotName()
	if frame.Sender == botName || !mentionsBot(frame.Text, botName) {
		return
	}
	body := stripLeadingMention(frame.Text, botName)
	sender := frame.Sender

	c.queue.Submit(func(ctx context.Context) {
		meta := map[string]any{
			"channel":         c.cfg.Channel,
			"members":         c.ChannelMembers(),
			"recent_messages": c.RecentMessages(),
		}
		response, err := c.handler(ctx, body, sender, meta)
		if err != nil {
			c.logger.Warn("dispatch failed", "sender", sender, "error", err)
			return
		}
		if response == "" {
			return
		}
		if err := c.Send(ctx, response); err != nil {
			c.logger.Warn("reply failed", "error", err)
		}
	})
}

func (c *Connector) setMembers(members []Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster = make(map[string]string, len(members))
	for _, m := range members {
		c.roster[m.Name] = m.UserID
	}
}

func (c *Connector) effectiveBotName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botName
}

// write serializes one frame. Gorilla connections allow one concurrent
// writer, so writes go through a mutex.
func (c *Connector) write(conn *websocket.Conn, frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *Connector) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
