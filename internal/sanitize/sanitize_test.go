package sanitize

import (
	"strings"
	"testing"
)

func TestMetadataRedactsSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"password":      "hunter2",
		"accessToken":   "eyJhbGciOi",
		"otpCode":       "123456",
		"sessionId":     "sess-abc",
		"refresh_token": "r-xyz",
		"Authorization": "Bearer abc",
		"cookieJar":     "a=b",
		"attempt":       3,
	}
	out := Metadata(in)

	for _, key := range []string{"password", "accessToken", "otpCode", "sessionId", "refresh_token", "Authorization", "cookieJar"} {
		if out[key] != Redacted {
			t.Errorf("key %q = %v, want %q", key, out[key], Redacted)
		}
	}
	if out["attempt"] != 3 {
		t.Errorf("attempt = %v, want 3", out["attempt"])
	}
}

func TestMetadataRedactsSensitiveValues(t *testing.T) {
	out := Metadata(map[string]any{
		"note": "user reset their password today",
	})
	if out["note"] != Redacted {
		t.Errorf("note = %v, want %q", out["note"], Redacted)
	}
}

func TestMetadataMasksEmails(t *testing.T) {
	out := Metadata(map[string]any{
		"email":   "alice@example.com",
		"contact": "bob.smith@corp.io",
	})
	if out["email"] != "al***@example.com" {
		t.Errorf("email = %v, want al***@example.com", out["email"])
	}
	if out["contact"] != "bo***@corp.io" {
		t.Errorf("contact = %v, want bo***@corp.io", out["contact"])
	}
}

func TestMaskEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "al***@example.com"},
		{"ab@x.io", "ab***@x.io"},
		{"a@x.io", Redacted},
		{"@x.io", Redacted},
		{"alice@", Redacted},
		{"not-an-email", Redacted},
		{"  carol@x.io  ", "ca***@x.io"},
	}
	for _, tc := range cases {
		if got := MaskEmail(tc.in); got != tc.want {
			t.Errorf("MaskEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValueTruncatesDeepNesting(t *testing.T) {
	deep := map[string]any{
		"l1": map[string]any{
			"l2": map[string]any{
				"l3": map[string]any{
					"l4": "too deep",
				},
			},
		},
	}
	out := Metadata(deep)

	l1 := out["l1"].(map[string]any)
	l2 := l1["l2"].(map[string]any)
	l3 := l2["l3"].(map[string]any)
	if l3["l4"] != Truncated {
		t.Errorf("depth-4 value = %v, want %q", l3["l4"], Truncated)
	}
}

func TestValueTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", MaxStringLen+50)
	out := Value("detail", long, 0)
	s, ok := out.(string)
	if !ok || len(s) != MaxStringLen {
		t.Fatalf("len = %d, want %d", len(s), MaxStringLen)
	}
}

func TestValueCapsSlices(t *testing.T) {
	in := make([]any, MaxSliceLen+10)
	for i := range in {
		in[i] = i
	}
	out := Value("items", in, 0).([]any)
	if len(out) != MaxSliceLen {
		t.Fatalf("len = %d, want %d", len(out), MaxSliceLen)
	}

	strs := make([]string, MaxSliceLen+5)
	for i := range strs {
		strs[i] = "v"
	}
	out = Value("items", strs, 0).([]any)
	if len(out) != MaxSliceLen {
		t.Fatalf("string slice len = %d, want %d", len(out), MaxSliceLen)
	}
}

func TestValueNilAndScalars(t *testing.T) {
	if got := Value("k", nil, 0); got != nil {
		t.Errorf("nil value = %v, want nil", got)
	}
	if got := Value("k", true, 0); got != true {
		t.Errorf("bool = %v, want true", got)
	}
	if got := Value("k", 4.5, 0); got != 4.5 {
		t.Errorf("float = %v, want 4.5", got)
	}
}

func TestMetadataNilMap(t *testing.T) {
	out := Metadata(nil)
	if out == nil {
		t.Fatal("want non-nil map for nil input")
	}
	if len(out) != 0 {
		t.Fatalf("len = %d, want 0", len(out))
	}
}

func TestIsSensitiveKey(t *testing.T) {
	for _, key := range []string{"password", "X-Session-Token", "REFRESH", "authorization"} {
		if !IsSensitiveKey(key) {
			t.Errorf("IsSensitiveKey(%q) = false, want true", key)
		}
	}
	for _, key := range []string{"email", "attempt", "path"} {
		if IsSensitiveKey(key) {
			t.Errorf("IsSensitiveKey(%q) = true, want false", key)
		}
	}
}
