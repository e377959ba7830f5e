package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Sample Page</title><script>var x = 1;</script></head>
<body>
<nav>Home | About</nav>
<article>
<h1>Heading</h1>
<p>First paragraph of readable text.</p>
<p>Second   paragraph with   extra spaces.</p>
</article>
<footer>Copyright notice</footer>
</body>
</html>`

func TestFetchExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	result, err := New().Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if result.Title != "Sample Page" {
		t.Errorf("title = %q", result.Title)
	}
	if !strings.Contains(result.Content, "First paragraph of readable text.") {
		t.Errorf("content missing paragraph text: %q", result.Content)
	}
	if strings.Contains(result.Content, "var x = 1") {
		t.Error("script content leaked into extracted text")
	}
	if strings.Contains(result.Content, "Copyright notice") {
		t.Error("footer content leaked into extracted text")
	}
	if strings.Contains(result.Content, "extra  spaces") {
		t.Error("whitespace runs not collapsed")
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("status = %d", result.StatusCode)
	}
}

func TestFetchTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 500)))
	}))
	defer srv.Close()

	result, err := New().Fetch(context.Background(), srv.URL, 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !result.Truncated {
		t.Error("expected truncation flag")
	}
	if len(result.Content) != 100 {
		t.Errorf("content length = %d, want 100", len(result.Content))
	}
}

func TestTruncateUTF8DoesNotSplitRunes(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune
	out := truncateUTF8(s, 5)
	if !strings.HasSuffix(out, "é") || len(out) != 4 {
		t.Errorf("truncateUTF8 split a rune: %q (%d bytes)", out, len(out))
	}
}

func TestToolHandlerRequiresURL(t *testing.T) {
	handler := ToolHandler(New())
	if _, err := handler(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing url")
	}
}
