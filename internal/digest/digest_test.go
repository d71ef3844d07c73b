package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

func item(id, author, platform, summary string, created time.Time) *feed.Item {
	return feed.NewItem(feed.Post{ID: id, Author: author, Platform: platform, CreatedAt: created}, summary, 1)
}

func TestSelectWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	items := []*feed.Item{
		item("old", "a", "x", "s.", now.Add(-48*time.Hour)),
		item("edge", "b", "x", "s.", now.Add(-24*time.Hour)),
		item("new", "c", "x", "s.", now.Add(-time.Hour)),
	}
	got := Select(items, now, 24*time.Hour)
	if len(got) != 2 || got[0].Post.ID != "edge" || got[1].Post.ID != "new" {
		t.Fatalf("unexpected selection %v", got)
	}
}

func TestBuildScript(t *testing.T) {
	now := time.Now()
	script := BuildScript([]*feed.Item{
		item("1", "alice", "twitter", "Big news today.", now),
		item("2", "bob", "linkedin", "Hiring engineers.", now),
	})
	want := "Here's your 2-post social media digest: " +
		"Post 1 from alice on twitter: Big news today. " +
		"Post 2 from bob on linkedin: Hiring engineers. " +
		"That concludes your social media digest. Thanks for listening!"
	if script != want {
		t.Fatalf("script = %q", script)
	}
}

func TestBuildEmptyWindow(t *testing.T) {
	now := time.Now()
	res := Build([]*feed.Item{item("1", "a", "x", "s.", now.Add(-72*time.Hour))}, now, 24*time.Hour)
	if !res.Empty || res.Script != "" || len(res.Items) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if res := Build(nil, now, time.Hour); !res.Empty {
		t.Fatalf("nil history must be empty")
	}
}

func TestBuildNonEmpty(t *testing.T) {
	now := time.Now()
	res := Build([]*feed.Item{item("1", "a", "x", "Short summary.", now)}, now, time.Hour)
	if res.Empty || !strings.HasPrefix(res.Script, "Here's your 1-post") {
		t.Fatalf("unexpected result %+v", res)
	}
}
