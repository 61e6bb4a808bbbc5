package logger

import "testing"

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "sk-123", "user_id", "u-1", "outline_id", "o-1", "dangling"})
	if out[1] != "[REDACTED]" {
		t.Fatalf("api_key not redacted: %v", out[1])
	}
	if out[3] == "u-1" || out[3] == "" {
		t.Fatalf("user_id not hashed: %v", out[3])
	}
	if out[5] != "o-1" {
		t.Fatalf("outline_id changed: %v", out[5])
	}
	if out[6] != "dangling" {
		t.Fatalf("dangling key dropped: %v", out)
	}
}
