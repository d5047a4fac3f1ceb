package job

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParsePhase(t *testing.T) {
	tests := []struct {
		input string
		want  Phase
	}{
		{"extracting", PhaseExtracting},
		{"downloading", PhaseDownloading},
		{"postprocessing", PhasePostprocessing},
		{"completed", PhaseCompleted},
		{"error", PhaseError},
		{"initializing", PhaseUnknown},
		{"finished", PhaseUnknown},
		{"Downloading", PhaseUnknown},
		{"", PhaseUnknown},
	}

	for _, tt := range tests {
		if got := ParsePhase(tt.input); got != tt.want {
			t.Errorf("ParsePhase(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"50%", 50},
		{" 42.7%", 42.7},
		{"100.0%", 100},
		{"0%", 0},
		{"12.5abc", 12.5},
		{".5%", 0.5},
		{"N/A", 0},
		{"", 0},
		{"%", 0},
		{"abc12", 0},
		{"-5%", 0},
		{"250%", 100},
		{"1e2%", 100},
		{"Infinity", 100},
		{"NaN", 0},
	}

	for _, tt := range tests {
		if got := ParsePercent(tt.input); got != tt.want {
			t.Errorf("ParsePercent(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDecode_PostprocessingForces100(t *testing.T) {
	for _, raw := range []string{"0%", "37.2%", "garbage", ""} {
		s := Decode("v1", Report{Status: "postprocessing", Progress: raw})
		if s.Percent != 100 {
			t.Errorf("progress %q: expected 100, got %v", raw, s.Percent)
		}
	}
}

func TestDecode_Messages(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{"extracting with title", Report{Status: "extracting", Title: "Foo"}, "Extracting media info... (Foo)"},
		{"extracting without title", Report{Status: "extracting"}, "Extracting media info..."},
		{"downloading", Report{Status: "downloading", Progress: " 50.0%"}, "Downloading... 50.0%"},
		{"downloading without progress", Report{Status: "downloading"}, "Downloading... 0%"},
		{"postprocessing", Report{Status: "postprocessing"}, MessagePostprocessing},
		{"completed", Report{Status: "completed", Progress: "100%"}, MessageFinalizing},
		{"error with message", Report{Status: "error", ErrorMessage: "Unsupported URL"}, "Unsupported URL"},
		{"error without message", Report{Status: "error"}, MessageDownloadFailed},
		{"unknown", Report{Status: "initializing"}, MessageInitializing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode("v1", tt.report).Message; got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDecode_DetailRequiresSpeedAndETA(t *testing.T) {
	s := Decode("v1", Report{Status: "downloading", Speed: "1.2MiB/s", ETA: "00:10"})
	if s.Detail != "speed: 1.2MiB/s / eta: 00:10" {
		t.Errorf("unexpected detail %q", s.Detail)
	}

	s = Decode("v1", Report{Status: "downloading", Speed: "1.2MiB/s"})
	if s.Detail != "" {
		t.Errorf("expected no detail without eta, got %q", s.Detail)
	}
	if s.Speed != "1.2MiB/s" {
		t.Errorf("expected speed to be kept, got %q", s.Speed)
	}
}

func TestState_JSON(t *testing.T) {
	s := Polling("https://example.com/v", "abc")
	s.UpdatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(data)
	for _, want := range []string{`"state":"polling"`, `"video_id":"abc"`, `"updated_at":"2024-01-02T03:04:05Z"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in %s", want, body)
		}
	}
	if strings.Contains(body, "outcome") {
		t.Errorf("polling state should not carry an outcome: %s", body)
	}
}

func TestState_Active(t *testing.T) {
	if Idle().Active() || Terminal("", OutcomeSuccess).Active() {
		t.Error("idle and terminal states are not active")
	}
	if !Submitting("u").Active() || !CheckingCompletion("u", "h").Active() {
		t.Error("submitting and checking states are active")
	}
	if got := Terminal("", OutcomeFailure).String(); got != "terminal(failure)" {
		t.Errorf("unexpected string %s", got)
	}
}

func TestCompletionResult_Expired(t *testing.T) {
	now := time.Now()
	r := CompletionResult{ExpiresAt: now.Add(time.Minute)}
	if r.Expired(now) {
		t.Error("link should still be valid")
	}
	if !r.Expired(now.Add(2 * time.Minute)) {
		t.Error("link should be expired")
	}
	if (CompletionResult{}).Expired(now) {
		t.Error("zero expiry never expires")
	}
}
