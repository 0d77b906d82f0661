package tools

import (
	"context"
	"net/url"
	"strings"
	"testing"
)

// TestWebFetch_RejectsNonHTTP verifies scheme validation happens before any
// network activity.
func TestWebFetch_RejectsNonHTTP(t *testing.T) {
	tool := NewWebFetchTool()
	ctx := context.Background()

	for _, raw := range []string{"file:///etc/passwd", "ftp://host/x", "gopher://x"} {
		res := tool.Execute(ctx, map[string]any{"url": raw})
		if res.Success {
			t.Errorf("fetch of %q succeeded", raw)
		}
		if !strings.Contains(res.Error, "http") {
			t.Errorf("error for %q = %q", raw, res.Error)
		}
	}
}

// TestWebFetch_BlocksInternalHosts verifies loopback and unspecified hosts
// are refused with a policy denial.
func TestWebFetch_BlocksInternalHosts(t *testing.T) {
	tool := NewWebFetchTool()
	ctx := context.Background()

	for _, raw := range []string{
		"http://127.0.0.1/admin",
		"http://localhost:8080/",
		"http://0.0.0.0/",
		"http://[::1]/",
	} {
		res := tool.Execute(ctx, map[string]any{"url": raw})
		if res.Success {
			t.Errorf("fetch of %q succeeded", raw)
		}
		if res.FailureKind != FailurePolicyDenied {
			t.Errorf("fetch of %q: kind = %q, want policy denial", raw, res.FailureKind)
		}
	}
}

// TestCheckSSRF_PrivateRanges exercises the resolver guard directly with
// literal addresses.
func TestCheckSSRF_PrivateRanges(t *testing.T) {
	blocked := []string{
		"http://10.0.0.5/",
		"http://192.168.1.1/",
		"http://172.16.0.9/",
		"http://169.254.169.254/latest/meta-data/",
	}
	for _, raw := range blocked {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatal(err)
		}
		if err := checkSSRF(u); err == nil {
			t.Errorf("checkSSRF allowed %q", raw)
		}
	}

	u, _ := url.Parse("http:///path-without-host")
	if err := checkSSRF(u); err == nil {
		t.Error("checkSSRF allowed a URL with no hostname")
	}
}

// TestHTMLToText verifies scripts, styles, and tags are stripped while body
// text and line structure survive.
func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>body { color: red }</style>
<script>alert("x")</script></head>
<body><!-- hidden --><h1>Title</h1>
<p>First &amp; second &lt;line&gt;.</p>
<div>Item one</div><div>Item   two</div>
</body></html>`

	got := htmlToText(html)

	if strings.Contains(got, "alert") || strings.Contains(got, "color: red") {
		t.Errorf("script/style leaked: %q", got)
	}
	if strings.Contains(got, "hidden") {
		t.Errorf("comment leaked: %q", got)
	}
	if !strings.Contains(got, "Title") {
		t.Errorf("heading lost: %q", got)
	}
	if !strings.Contains(got, "First & second <line>.") {
		t.Errorf("entities not decoded: %q", got)
	}
	if !strings.Contains(got, "Item one\nItem two") {
		t.Errorf("block breaks or space collapsing wrong: %q", got)
	}
}

// TestUnwrapDDGRedirect verifies redirect URLs unwrap to their targets and
// plain URLs pass through.
func TestUnwrapDDGRedirect(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"wrapped",
			"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&rut=abc",
			"https://example.com/page",
		},
		{
			"plain",
			"https://example.com/direct",
			"https://example.com/direct",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unwrapDDGRedirect(tt.in); got != tt.want {
				t.Errorf("unwrap(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestFormatResults verifies numbering and the no-results message.
func TestFormatResults(t *testing.T) {
	out := formatResults("go testing", "brave", []searchResult{
		{Title: "Go docs", URL: "https://go.dev", Description: "official site"},
		{Title: "Blog", URL: "https://blog.example"},
	})
	if !strings.Contains(out, "Search results for: go testing (via brave)") {
		t.Errorf("header missing: %q", out)
	}
	if !strings.Contains(out, "1. Go docs") || !strings.Contains(out, "2. Blog") {
		t.Errorf("numbering wrong: %q", out)
	}
	if !strings.Contains(out, "official site") {
		t.Errorf("description missing: %q", out)
	}

	if got := formatResults("nothing", "duckduckgo", nil); !strings.Contains(got, "No results found") {
		t.Errorf("empty results message = %q", got)
	}
}

// TestWebSearch_RequiresQuery verifies the argument check.
func TestWebSearch_RequiresQuery(t *testing.T) {
	tool := NewWebSearchTool("")
	if res := tool.Execute(context.Background(), map[string]any{}); res.Success {
		t.Errorf("empty query accepted: %+v", res)
	}
}
