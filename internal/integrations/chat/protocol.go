package chat

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Frame is the JSON envelope exchanged with the chat server. Type selects
// the variant; unused fields stay empty.
type Frame struct {
	Type string `json:"type"`

	// set_name / name handshake.
	Name string `json:"name,omitempty"`

	// join_channel and channel events.
	Channel  string `json:"channel,omitempty"`
	Private  bool   `json:"private,omitempty"`
	Password string `json:"password,omitempty"`

	// chat events.
	Sender   string    `json:"sender,omitempty"`
	SenderID string    `json:"sender_id,omitempty"`
	Text     string    `json:"text,omitempty"`
	Mentions []Mention `json:"mentions,omitempty"`

	// members response and join/leave events.
	Members []Member `json:"members,omitempty"`
	UserID  string   `json:"user_id,omitempty"`

	Error string `json:"error,omitempty"`
}

// Frame types sent by the connector.
const (
	frameSetName     = "set_name"
	frameJoinChannel = "join_channel"
	frameGetMembers  = "get_members"
	frameChat        = "chat"
)

// Frame types received from the server.
const (
	frameNameAccepted = "name_accepted"
	frameNameTaken    = "name_taken"
	frameJoined       = "joined"
	frameMembers      = "members"
	frameUserJoined   = "user_joined"
	frameUserLeft     = "user_left"
	frameError        = "error"
)

// Mention attaches a resolved user id to an outgoing message.
type Mention struct {
	UserID string `json:"userId"`
}

// Member is one channel participant.
type Member struct {
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

var mentionPattern = regexp.MustCompile(`@([\w.-]+)`)

// resolveMentions scans text for @name tokens and returns the mentions
// for names found in the roster.
func resolveMentions(text string, roster map[string]string) []Mention {
	var mentions []Mention
	seen := map[string]bool{}
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if userID, ok := roster[match[1]]; ok && !seen[userID] {
			seen[userID] = true
			mentions = append(mentions, Mention{UserID: userID})
		}
	}
	return mentions
}

// mentionsBot reports whether text mentions the bot by name. The mention
// token is maximal, so "@bobby" never fires for bot "bob".
func mentionsBot(text, botName string) bool {
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if m[1] == botName {
			return true
		}
	}
	return false
}

// stripLeadingMention removes the bot mention token when it opens the
// message, leaving the command text.
func stripLeadingMention(text, botName string) string {
	trimmed := strings.TrimSpace(text)
	loc := mentionPattern.FindStringSubmatchIndex(trimmed)
	if loc != nil && loc[0] == 0 && trimmed[loc[2]:loc[3]] == botName {
		return strings.TrimSpace(trimmed[loc[1]:])
	}
	return trimmed
}

// splitChunks cuts text into sequential chunks of at most limit bytes,
// preferring paragraph, line, sentence, and word boundaries in that order.
// A hard break always lands on a rune boundary.
func splitChunks(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > limit {
		cut := breakPoint(remaining, limit)
		chunk := strings.TrimRightFunc(remaining[:cut], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[cut:], unicode.IsSpace)
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// breakPoint finds the best cut position within the first limit bytes.
func breakPoint(text string, limit int) int {
	window := text[:limit]
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			return idx + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

// suffixedName derives the collision-retry bot name: base, base-1,
// base-2, and so on.
func suffixedName(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt)
}

// rollingLog keeps recent channel traffic capped by total characters,
// evicting oldest entries first.
type rollingLog struct {
	mu      sync.Mutex
	entries []string
	size    int
	max     int
}

func newRollingLog(maxChars int) *rollingLog {
	return &rollingLog{max: maxChars}
}

func (l *rollingLog) Append(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	l.size += len(entry)
	for l.size > l.max && len(l.entries) > 0 {
		l.size -= len(l.entries[0])
		l.entries = l.entries[1:]
	}
}

func (l *rollingLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.entries...)
}
