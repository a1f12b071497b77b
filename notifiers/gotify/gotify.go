// Package gotify provides a Gotify notification implementation using the official Gotify API client.
package gotify

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gotify/go-api-client/v2/auth"
	"github.com/gotify/go-api-client/v2/client"
	"github.com/gotify/go-api-client/v2/client/message"
	"github.com/gotify/go-api-client/v2/gotify"
	"github.com/gotify/go-api-client/v2/models"

	"corpus_dashboard/config"
	"corpus_dashboard/events"
)

// Priority levels for Gotify messages.
const (
	PriorityMin    = 0  // Minimum priority (no notification)
	PriorityLow    = 2  // Low priority
	PriorityNormal = 5  // Normal priority
	PriorityHigh   = 8  // High priority (notification sound)
	PriorityMax    = 10 // Maximum priority (persistent notification)
)

// Message represents a Gotify message (used for internal formatting).
type Message struct {
	Title    string
	Message  string
	Priority int
}

// Notifier implements the notifiers.Notifier interface for Gotify.
type Notifier struct {
	client   *client.GotifyREST
	token    string
	hostname string // kept for testing/logging
}

// New creates a new Gotify notifier from configuration.
// Returns nil if Gotify is not configured or disabled.
func New(cfg *config.GotifyConfig) *Notifier {
	if cfg == nil || !cfg.IsValid() {
		return nil
	}

	hostname := strings.TrimSuffix(cfg.Hostname, "/")
	parsedURL, err := url.Parse(hostname)
	if err != nil {
		log.Printf("Gotify: failed to parse URL: %v", err)
		return nil
	}

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	return &Notifier{
		client:   gotify.NewClient(parsedURL, httpClient),
		token:    cfg.Token,
		hostname: hostname,
	}
}

// Name returns the notifier's name.
func (n *Notifier) Name() string {
	return "gotify"
}

// Notify sends a notification for the given event.
func (n *Notifier) Notify(event events.Event) error {
	msg := formatEvent(event)
	if msg == nil {
		return nil
	}
	return n.send(msg)
}

// formatEvent converts an event into a Gotify message.
// Returns nil for events that shouldn't generate notifications.
func formatEvent(event events.Event) *Message {
	switch e := event.(type) {
	case *events.TemplateSavedEvent:
		return formatTemplateSaved(e)
	case *events.TemplateDeletedEvent:
		return formatTemplateDeleted(e)
	case *events.TemplatesReloadedEvent:
		return &Message{
			Title:    "🔄 Templates reloaded",
			Message:  fmt.Sprintf("Template file changed on disk, %d templates loaded", e.Count),
			Priority: PriorityLow,
		}
	default:
		return nil
	}
}

func formatTemplateSaved(e *events.TemplateSavedEvent) *Message {
	verb := "updated"
	if e.Created {
		verb = "created"
	}
	return &Message{
		Title:    fmt.Sprintf("📝 Template %s %s", e.Name, verb),
		Message:  e.Query + byUser(e.User),
		Priority: PriorityNormal,
	}
}

func formatTemplateDeleted(e *events.TemplateDeletedEvent) *Message {
	return &Message{
		Title:    fmt.Sprintf("🗑 Template %s deleted", e.Name),
		Message:  "Removed from the template store" + byUser(e.User),
		Priority: PriorityHigh,
	}
}

func byUser(user string) string {
	if user == "" {
		return ""
	}
	return "\nby " + user
}

// send sends a message to Gotify using the official API client.
func (n *Notifier) send(msg *Message) error {
	params := message.NewCreateMessageParams()
	params.Body = &models.MessageExternal{
		Title:    msg.Title,
		Message:  msg.Message,
		Priority: msg.Priority,
	}

	_, err := n.client.Message.CreateMessage(params, auth.TokenAuth(n.token))
	if err != nil {
		log.Printf("Gotify notification failed: %v", err)
		return fmt.Errorf("failed to send notification: %w", err)
	}

	return nil
}

// Close releases resources held by the notifier.
func (n *Notifier) Close() error {
	return nil
}

// SendTest sends a test notification to verify connectivity.
func (n *Notifier) SendTest() error {
	return n.send(&Message{
		Title:    "🔔 Corpus Query Builder",
		Message:  "Test notification - Gotify is configured correctly!",
		Priority: PriorityNormal,
	})
}
