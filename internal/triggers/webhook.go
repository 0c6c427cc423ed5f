package triggers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/haasonsaas/maestro/internal/config"
)

// WebhookPathPrefix is the derived route prefix for webhook triggers.
const WebhookPathPrefix = "/api/triggers/webhooks/"

// Webhooks registers POST routes that submit agent runs. Registration
// detects path collisions; the first registration wins and later ones
// are rejected.
type Webhooks struct {
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	logger *slog.Logger

	// onFire observes every accepted fire, used for metrics.
	onFire func(agent string)
}

// OnFire registers a fire observer. Must be called before requests are
// served.
func (w *Webhooks) OnFire(fn func(agent string)) { w.onFire = fn }

// NewWebhooks creates an empty registrar.
func NewWebhooks(logger *slog.Logger) *Webhooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhooks{
		routes: make(map[string]http.HandlerFunc),
		logger: logger.With("component", "webhooks"),
	}
}

// Register adds the route for one webhook trigger, derived from the
// agent name unless the trigger declares an explicit path.
func (w *Webhooks) Register(agentName string, trig config.TriggerConfig, runner Runner) error {
	path := trig.Path
	if path == "" {
		path = WebhookPathPrefix + agentName
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.routes[path]; exists {
		return fmt.Errorf("webhooks: path %q already registered", path)
	}
	w.routes[path] = w.handler(agentName, trig, runner)
	w.logger.Info("webhook trigger registered", "agent", agentName, "path", path)
	return nil
}

// ServeHTTP routes webhook requests to their registered trigger.
func (w *Webhooks) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	handler, ok := w.routes[r.URL.Path]
	w.mu.Unlock()
	if !ok {
		http.NotFound(rw, r)
		return
	}
	handler(rw, r)
}

func (w *Webhooks) handler(agentName string, trig config.TriggerConfig, runner Runner) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(rw, "invalid JSON body", http.StatusBadRequest)
			return
		}

		if w.onFire != nil {
			w.onFire(agentName)
		}

		// Request body overrides the declared input.
		input := mergeInput(trig.Input, body)
		sessionID := WebhookSessionID(agentName, time.Now())

		result, err := runner.Invoke(r.Context(), agentOptions(input, sessionID))
		if err != nil {
			w.logger.Warn("webhook fire failed", "agent", agentName, "error", err)
			http.Error(rw, "invocation failed", http.StatusInternalServerError)
			return
		}

		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(result); err != nil {
			w.logger.Warn("webhook response encode failed", "agent", agentName, "error", err)
		}
	}
}
