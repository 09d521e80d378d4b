package bot

import (
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/resobot/api/internal/model"
)

func TestParseCallback(t *testing.T) {
	cases := []struct {
		data          string
		token, choice string
		ok            bool
	}{
		{"res:ab12cd34:360p", "ab12cd34", "360p", true},
		{"res:ab12cd34:all", "ab12cd34", "all", true},
		{"res:ab12cd34:", "", "", false},
		{"res::360p", "", "", false},
		{"other:ab12cd34:360p", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		token, choice, ok := parseCallback(tc.data)
		if ok != tc.ok || token != tc.token || choice != tc.choice {
			t.Errorf("parseCallback(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.data, token, choice, ok, tc.token, tc.choice, tc.ok)
		}
	}
}

func TestChosenLabels(t *testing.T) {
	if got := chosenLabels("480p"); len(got) != 1 || got[0] != model.Resolution480p {
		t.Errorf("single choice: got %v", got)
	}
	if got := chosenLabels("all"); len(got) != len(model.ValidResolutions) {
		t.Errorf("all choice: got %v", got)
	}
	if got := chosenLabels("1080p"); got != nil {
		t.Errorf("unknown choice should map to nil, got %v", got)
	}
}

func TestResolutionKeyboardLayout(t *testing.T) {
	kb := resolutionKeyboard("tok12345")

	// Five resolutions two per row plus the all-resolutions row.
	if len(kb.InlineKeyboard) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(kb.InlineKeyboard))
	}
	last := kb.InlineKeyboard[len(kb.InlineKeyboard)-1]
	if len(last) != 1 || *last[0].CallbackData != "res:tok12345:all" {
		t.Errorf("unexpected all-resolutions row: %+v", last)
	}

	seen := make(map[string]bool)
	for _, row := range kb.InlineKeyboard[:3] {
		for _, btn := range row {
			token, choice, ok := parseCallback(*btn.CallbackData)
			if !ok || token != "tok12345" {
				t.Errorf("bad callback data %q", *btn.CallbackData)
			}
			seen[choice] = true
		}
	}
	for _, label := range model.ValidResolutions {
		if !seen[string(label)] {
			t.Errorf("keyboard missing %s", label)
		}
	}
}

func TestDescribeVideo(t *testing.T) {
	const maxStd = 49 << 20

	msg := &tgbotapi.Message{Video: &tgbotapi.Video{
		FileID: "vid-1", FileName: "clip.mov", FileSize: 10 << 20,
	}}
	src, ok := describeVideo(msg, maxStd)
	if !ok || src.FileID != "vid-1" || src.FileName != "clip.mov" || src.Large {
		t.Errorf("video message: got %+v ok=%v", src, ok)
	}

	msg = &tgbotapi.Message{Video: &tgbotapi.Video{FileID: "vid-2", FileSize: 100 << 20}}
	src, ok = describeVideo(msg, maxStd)
	if !ok || !src.Large {
		t.Errorf("oversized video should be flagged large, got %+v", src)
	}
	if src.FileName != "video.mp4" {
		t.Errorf("missing name should default, got %q", src.FileName)
	}

	msg = &tgbotapi.Message{Document: &tgbotapi.Document{
		FileID: "doc-1", FileName: "raw.mkv", MimeType: "video/x-matroska", FileSize: 5 << 20,
	}}
	if src, ok = describeVideo(msg, maxStd); !ok || src.FileID != "doc-1" {
		t.Errorf("video document: got %+v ok=%v", src, ok)
	}

	msg = &tgbotapi.Message{Document: &tgbotapi.Document{
		FileID: "doc-2", FileName: "notes.pdf", MimeType: "application/pdf",
	}}
	if _, ok = describeVideo(msg, maxStd); ok {
		t.Error("non-video document must be rejected")
	}

	if _, ok = describeVideo(&tgbotapi.Message{Text: "hello"}, maxStd); ok {
		t.Error("text message must be rejected")
	}
}

func TestOfferLifecycle(t *testing.T) {
	b := New(nil, nil, Capabilities{StandardMax: 49 << 20})

	off := offer{src: model.SourceDescriptor{FileID: "f"}, chatID: 1, userID: 2, created: time.Now()}
	token := b.storeOffer(off)

	got, ok := b.takeOffer(token)
	if !ok || got.src.FileID != "f" {
		t.Fatalf("takeOffer: got %+v ok=%v", got, ok)
	}
	if _, ok := b.takeOffer(token); ok {
		t.Error("an offer may only be taken once")
	}

	b.restoreOffer(token, off)
	if _, ok := b.takeOffer(token); !ok {
		t.Error("restored offer should be takeable again")
	}

	stale := offer{created: time.Now().Add(-offerTTL - time.Minute)}
	token = b.storeOffer(stale)
	if _, ok := b.takeOffer(token); ok {
		t.Error("expired offer must not be served")
	}
}

func TestRestoredOfferReachableFromKeyboard(t *testing.T) {
	b := New(nil, nil, Capabilities{StandardMax: 49 << 20})

	off := offer{src: model.SourceDescriptor{FileID: "f"}, chatID: 1, userID: 2, created: time.Now()}
	token := b.storeOffer(off)

	// A rejected submission takes the offer, restores it, and re-sends the
	// keyboard. Every button on that keyboard must still resolve to the
	// restored offer.
	taken, ok := b.takeOffer(token)
	if !ok {
		t.Fatal("takeOffer failed")
	}
	b.restoreOffer(token, taken)

	kb := resolutionKeyboard(token)
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			gotToken, _, ok := parseCallback(*btn.CallbackData)
			if !ok || gotToken != token {
				t.Fatalf("button %q does not reference the restored offer", *btn.CallbackData)
			}
		}
	}
	if _, ok := b.takeOffer(token); !ok {
		t.Error("restored offer not takeable via the re-sent keyboard's token")
	}
}
