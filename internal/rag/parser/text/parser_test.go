package text

import (
	"context"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	p := New()
	// "é" written as e + combining acute must come back composed.
	input := "# Profile\r\n\r\nCafe\u0301 owner.\r\n"

	result, err := p.Parse(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if strings.Contains(result.Content, "\r") {
		t.Error("CRLF not normalized")
	}
	if !strings.Contains(result.Content, "Café") {
		t.Errorf("content not NFC normalized: %q", result.Content)
	}
	if result.Metadata.Title != "Profile" {
		t.Errorf("Title = %q, want Profile", result.Metadata.Title)
	}
}

func TestParseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Parse(ctx, strings.NewReader("x")); err == nil {
		t.Fatal("expected context error")
	}
}

func TestTitleOf(t *testing.T) {
	long := strings.Repeat("é", 120)
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "skips blank lines", content: "\n\n  Semanto Ghosh  \nEngineer", want: "Semanto Ghosh"},
		{name: "strips heading marks", content: "## Experience\n", want: "Experience"},
		{name: "empty", content: "\n \n", want: ""},
		{name: "truncates by rune", content: long, want: strings.Repeat("é", 100) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := titleOf(tt.content); got != tt.want {
				t.Errorf("titleOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
