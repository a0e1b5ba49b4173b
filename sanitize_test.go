package armada

import (
	"strings"
	"testing"
)

func TestSanitizeStripsControlChars(t *testing.T) {
	got := Sanitize("a\x00b\rc\nd\te")
	if got != "ab c d e" {
		t.Errorf("Sanitize = %q", got)
	}
}

func TestSanitizeNormalizesUnicode(t *testing.T) {
	// Fullwidth Latin folds to ASCII under NFKC.
	got := Sanitize("ｅｖａｌ")
	if got != "eval" {
		t.Errorf("Sanitize = %q", got)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{"  plain  ", "a\nb", "ｅｖａｌ(x)", "already clean"}
	for _, in := range inputs {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestCheckDangerous(t *testing.T) {
	dangerous := []string{
		"<script>alert(1)</script>",
		"<SCRIPT src=x>payload</script>",
		"click javascript:void(0)",
		"vbscript:msgbox",
		`<img onerror=alert(1)>`,
		"please eval (this)",
		"exec(rm)",
		"system('ls')",
		"shell_exec('id')",
		"passthru ( 'x' )",
		"proc_open('sh')",
		"ｅｖａｌ(obfuscated)", // fullwidth obfuscation
	}
	for _, s := range dangerous {
		if !CheckDangerous(s) {
			t.Errorf("CheckDangerous(%q) = false, want true", s)
		}
	}

	safe := []string{
		"write a blog post about evaluation",  // "eval" without call syntax
		"the execution plan",
		"systems thinking",
		"on the other hand",                   // "on" word is not an attribute
		"describe the script of the play",
	}
	for _, s := range safe {
		if CheckDangerous(s) {
			t.Errorf("CheckDangerous(%q) = true, want false", s)
		}
	}
}

func TestSanitizeFieldCaps(t *testing.T) {
	if _, err := sanitizeField("f", strings.Repeat("x", 11), 10); err == nil {
		t.Error("over-cap value should be rejected, not truncated")
	}
	if _, err := sanitizeField("f", "   ", 10); err == nil {
		t.Error("whitespace-only value should be rejected")
	}
	got, err := sanitizeField("f", "  ok  ", 10)
	if err != nil || got != "ok" {
		t.Errorf("sanitizeField = %q, %v", got, err)
	}
}

func TestSanitizeMap(t *testing.T) {
	out, err := SanitizeMap("ctx", map[string]any{
		"text":  "  hello\n",
		"count": 3,
	})
	if err != nil {
		t.Fatalf("SanitizeMap: %v", err)
	}
	if out["text"] != "hello" {
		t.Errorf("text = %q", out["text"])
	}
	if out["count"] != 3 {
		t.Errorf("count = %v", out["count"])
	}

	if _, err := SanitizeMap("ctx", map[string]any{"bad": "eval (x)"}); err == nil {
		t.Error("dangerous value should be rejected")
	}
}
