package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/admitdesk/internal/notify"
)

// --- Mock Discord session ---

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

type mockSession struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures []error
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func newTestNotifier(t *testing.T, sess *mockSession) *Notifier {
	t.Helper()
	n, err := New(Opts{ChannelID: "chan-1", Session: sess})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.baseBackoff = time.Millisecond
	n.maxBackoff = 5 * time.Millisecond
	return n
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "c"}); err == nil {
		t.Error("expected error without token or session")
	}
	if _, err := New(Opts{Session: &mockSession{}}); err == nil {
		t.Error("expected error without channel")
	}
}

// ---------------------------------------------------------------------------
// Notify
// ---------------------------------------------------------------------------

func TestNotify_SendsEmbed(t *testing.T) {
	sess := &mockSession{}
	n := newTestNotifier(t, sess)
	err := n.Notify(context.Background(), notify.Message{
		Title:    "Morning queue",
		Text:     "4 pending, 1 overdue",
		Severity: notify.SeveritySuccess,
		Fields:   []notify.Field{{Name: "pending", Value: "4", Short: true}},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sess.sent))
	}
	got := sess.sent[0]
	if got.channelID != "chan-1" {
		t.Errorf("channel = %q", got.channelID)
	}
	if len(got.data.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.data.Embeds))
	}
	e := got.data.Embeds[0]
	if e.Title != "Morning queue" || e.Description != "4 pending, 1 overdue" {
		t.Errorf("embed = %+v", e)
	}
	if e.Color != 0x36a64f {
		t.Errorf("color = %#x, want 0x36a64f", e.Color)
	}
	if len(e.Fields) != 1 || !e.Fields[0].Inline {
		t.Errorf("fields = %+v", e.Fields)
	}
}

func TestNotify_Retries429(t *testing.T) {
	sess := &mockSession{failures: []error{rateLimited(), rateLimited()}}
	n := newTestNotifier(t, sess)
	if err := n.Notify(context.Background(), notify.Message{Text: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Errorf("sent %d, want 1", len(sess.sent))
	}
}

func TestNotify_GivesUp(t *testing.T) {
	var failures []error
	for i := 0; i <= maxRetries; i++ {
		failures = append(failures, rateLimited())
	}
	sess := &mockSession{failures: failures}
	n := newTestNotifier(t, sess)
	if err := n.Notify(context.Background(), notify.Message{Text: "x"}); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestNotify_NonRateLimitError(t *testing.T) {
	sess := &mockSession{failures: []error{errors.New("missing access"), nil}}
	n := newTestNotifier(t, sess)
	if err := n.Notify(context.Background(), notify.Message{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if len(sess.failures) != 1 {
		t.Error("non rate-limit error was retried")
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#36a64f", 0x36a64f},
		{"E53935", 0xe53935},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}
