// Package email is the mailbox integration connector: an IMAP poll loop
// that relays unseen messages to its agent and replies over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/haasonsaas/maestro/internal/integrations"
)

const (
	defaultPollInterval = time.Minute
	defaultMailbox      = "INBOX"

	maxRecentEntries = 50
)

// Config declares one email connector.
type Config struct {
	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
	Username string
	Password string

	// From is the reply sender address; defaults to Username.
	From string

	// Mailbox defaults to INBOX.
	Mailbox string

	PollInterval time.Duration

	// OnQueueDepth observes dispatch queue depth changes, used for
	// metrics.
	OnQueueDepth func(depth int)
}

// Connector polls one mailbox and dispatches each unseen message to its
// agent through a single-flight queue.
type Connector struct {
	agent   string
	cfg     Config
	handler integrations.Handler
	logger  *slog.Logger

	queue  *integrations.Queue
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	recent []string
}

// New creates an email connector for one agent.
func New(agent string, cfg Config, handler integrations.Handler, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = defaultMailbox
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Connector{
		agent:   agent,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "email", "agent", agent),
	}
}

// Start begins the poll loop until the context is cancelled.
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

// Stop ends the poll loop and waits for in-flight dispatches.
func (c *Connector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
	if c.queue != nil {
		c.queue.Wait()
	}
}

// RecentMessages returns summaries of recently handled mail, oldest
// first.
func (c *Connector) RecentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.recent...)
}

// ChannelMembers is empty for mailboxes.
func (c *Connector) ChannelMembers() []string { return nil }

func (c *Connector) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.poll(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// inboundMessage is one fetched, parsed mail ready for dispatch.
type inboundMessage struct {
	senderEmail string
	senderName  string
	subject     string
	messageID   string
	body        string
}

// poll runs one IMAP cycle: search unseen, fetch, mark seen in one
// batch, then enqueue each message for dispatch.
func (c *Connector) poll(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.IMAPHost, c.cfg.IMAPPort)
	cl, err := client.DialTLS(addr, &tls.Config{ServerName: c.cfg.IMAPHost})
	if err != nil {
		return fmt.Errorf("imap dial: %w", err)
	}
	defer cl.Logout()

	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	if _, err := cl.Select(c.cfg.Mailbox, false); err != nil {
		return fmt.Errorf("imap select %s: %w", c.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := cl.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	fetched := make(chan *imap.Message, len(uids))
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- cl.UidFetch(seqset, items, fetched)
	}()

	var inbound []inboundMessage
	for msg := range fetched {
		parsed, err := c.parseMessage(msg, section)
		if err != nil {
			c.logger.Warn("message skipped", "uid", msg.Uid, "error", err)
			continue
		}
		inbound = append(inbound, parsed)
	}
	if err := <-fetchDone; err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}

	// One batched flag update for everything fetched.
	flagOp := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := cl.UidStore(seqset, flagOp, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("imap mark seen: %w", err)
	}

	for _, msg := range inbound {
		c.dispatch(msg)
	}
	return nil
}

func (c *Connector) parseMessage(msg *imap.Message, section *imap.BodySectionName) (inboundMessage, error) {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return inboundMessage{}, fmt.Errorf("missing envelope")
	}
	from := msg.Envelope.From[0]

	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		return inboundMessage{}, fmt.Errorf("missing body section")
	}
	raw, err := io.ReadAll(bodyReader)
	if err != nil {
		return inboundMessage{}, fmt.Errorf("read body: %w", err)
	}
	body, err := extractPlainText(raw)
	if err != nil {
		return inboundMessage{}, err
	}

	return inboundMessage{
		senderEmail: fmt.Sprintf("%s@%s", from.MailboxName, from.HostName),
		senderName:  from.PersonalName,
		subject:     msg.Envelope.Subject,
		messageID:   msg.Envelope.MessageId,
		body:        body,
	}, nil
}

func (c *Connector) dispatch(msg inboundMessage) {
	c.mu.Lock()
	c.recent = append(c.recent, fmt.Sprintf("%s: %s", msg.senderEmail, msg.subject))
	if len(c.recent) > maxRecentEntries {
		c.recent = c.recent[len(c.recent)-maxRecentEntries:]
	}
	c.mu.Unlock()

	c.queue.Submit(func(ctx context.Context) {
		meta := map[string]any{
			"subject":    msg.subject,
			"sender":     msg.senderEmail,
			"message_id": msg.messageID,
		}
		response, err := c.handler(ctx, msg.body, msg.senderEmail, meta)
		if err != nil {
			c.logger.Warn("dispatch failed", "sender", msg.senderEmail, "error", err)
			return
		}
		if response == "" {
			return
		}
		if err := c.reply(msg, response); err != nil {
			c.logger.Warn("reply failed", "sender", msg.senderEmail, "error", err)
		}
	})
}

// reply sends the agent response back over SMTP, threading on the
// incoming message id.
func (c *Connector) reply(msg inboundMessage, body string) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	payload := composeReply(c.cfg.From, msg.senderEmail, msg.subject, msg.messageID, body)
	return smtp.SendMail(addr, auth, c.cfg.From, []string{msg.senderEmail}, payload)
}

// SessionID returns the per-sender session id this connector dispatches
// under.
func (c *Connector) SessionID(senderEmail string) string {
	return integrations.EmailSessionID(c.agent, senderEmail)
}
