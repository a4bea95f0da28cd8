package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeQuestion(t *testing.T) {
	data := []byte(`{"type":"question","sender":"agent","message_text":"Tell me about yourself","question_category":"knockout","timestamp":"2025-03-01T10:00:00.123456"}`)

	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != KindQuestion {
		t.Errorf("type = %q, want %q", ev.Type, KindQuestion)
	}
	if ev.MessageText != "Tell me about yourself" {
		t.Errorf("message_text = %q", ev.MessageText)
	}
	if ev.QuestionCategory != "knockout" {
		t.Errorf("question_category = %q", ev.QuestionCategory)
	}
	ts, ok := ev.Time()
	if !ok {
		t.Fatal("timestamp should parse")
	}
	if ts.Year() != 2025 || ts.Minute() != 0 || ts.Hour() != 10 {
		t.Errorf("timestamp = %v", ts)
	}
}

func TestDecodeScoreUpdateAcceptsIntegers(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"score_update","score":4,"explanation":"Clear answer"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Score == nil || *ev.Score != 4 {
		t.Errorf("score = %v, want 4", ev.Score)
	}
	if ev.Explanation != "Clear answer" {
		t.Errorf("explanation = %q", ev.Explanation)
	}
}

func TestDecodeCompleted(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"interview_completed","global_score":82.5,"message":"done","redirect_to":"/dashboard/applications/a1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.GlobalScore == nil || *ev.GlobalScore != 82.5 {
		t.Errorf("global_score = %v, want 82.5", ev.GlobalScore)
	}
	if ev.RedirectTo != "/dashboard/applications/a1" {
		t.Errorf("redirect_to = %q", ev.RedirectTo)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"heartbeat","extra":true}`))
	if err != nil {
		t.Fatalf("unknown kinds should decode: %v", err)
	}
	if ev.Known() {
		t.Error("heartbeat should not be known")
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{`not json`, `{"message":"no type"}`, `[]`} {
		if _, err := DecodeEvent([]byte(in)); err == nil {
			t.Errorf("DecodeEvent(%q) should fail", in)
		}
	}
}

func TestCandidateMessageWireShape(t *testing.T) {
	data, err := json.Marshal(CandidateMessage("app-1", "I am a backend engineer"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["type"] != "candidate_message" {
		t.Errorf("type = %v", raw["type"])
	}
	if raw["application_id"] != "app-1" {
		t.Errorf("application_id = %v", raw["application_id"])
	}
	if raw["message_text"] != "I am a backend engineer" {
		t.Errorf("message_text = %v", raw["message_text"])
	}
	if len(raw) != 3 {
		t.Errorf("command has %d fields, want 3", len(raw))
	}
}

func TestEventTimeMissing(t *testing.T) {
	if _, ok := (Event{Type: KindQuestion}).Time(); ok {
		t.Error("missing timestamp should not parse")
	}
	if _, ok := (Event{Type: KindQuestion, Timestamp: "yesterday"}).Time(); ok {
		t.Error("invalid timestamp should not parse")
	}
}

func TestFormatTimeRoundTrip(t *testing.T) {
	in := time.Date(2025, 3, 4, 10, 30, 15, 250000000, time.UTC)
	s := FormatTime(in)
	if s != "2025-03-04T10:30:15.25" {
		t.Errorf("FormatTime = %q", s)
	}
	got, ok := ParseTime(s)
	if !ok || !got.Equal(in) {
		t.Errorf("ParseTime(%q) = %v, %v", s, got, ok)
	}
	if _, ok := ParseTime("2025-03-04T10:30:15Z"); !ok {
		t.Error("RFC 3339 should parse")
	}
	if _, ok := ParseTime("yesterday"); ok {
		t.Error("garbage should not parse")
	}
}
