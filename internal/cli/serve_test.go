package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/nhle/deck-notify/internal/config"
	"github.com/nhle/deck-notify/internal/notify"
	"github.com/nhle/deck-notify/internal/version"
)

type recordingSender struct {
	sends []string
	logs  []string
}

func (r *recordingSender) Send(_ context.Context, _ int64, text string, _ notify.SendOptions) bool {
	r.sends = append(r.sends, text)
	return true
}

func (r *recordingSender) SendLog(_ context.Context, _ int64, text string, _ notify.SendOptions) bool {
	r.logs = append(r.logs, text)
	return true
}

func TestAnnounceStartupWithoutLogTopicStaysSilent(t *testing.T) {
	sender := &recordingSender{}
	cfg := &config.Config{ForumChatID: 777}

	announceStartup(context.Background(), sender, cfg)

	if len(sender.logs) != 0 || len(sender.sends) != 0 {
		t.Fatalf("expected no messages, got logs=%v sends=%v", sender.logs, sender.sends)
	}
}

func TestAnnounceStartupPostsToLogThread(t *testing.T) {
	sender := &recordingSender{}
	topic := int64(42)
	cfg := &config.Config{ForumChatID: 777, LogTopicID: &topic}

	announceStartup(context.Background(), sender, cfg)

	if len(sender.logs) != 1 {
		t.Fatalf("expected exactly one log message, got %v", sender.logs)
	}
	if !strings.Contains(sender.logs[0], "restarted") {
		t.Errorf("unexpected startup text %q", sender.logs[0])
	}
}

func TestAnnounceStartupIncludesCommit(t *testing.T) {
	prev := version.Commit
	version.Commit = "deadbeefcafe"
	t.Cleanup(func() { version.Commit = prev })

	sender := &recordingSender{}
	topic := int64(42)
	cfg := &config.Config{ForumChatID: 777, LogTopicID: &topic}

	announceStartup(context.Background(), sender, cfg)

	if len(sender.logs) != 1 {
		t.Fatalf("expected exactly one log message, got %v", sender.logs)
	}
	if !strings.Contains(sender.logs[0], "deadbeefcafe") {
		t.Errorf("startup text %q should carry the commit id", sender.logs[0])
	}
}
