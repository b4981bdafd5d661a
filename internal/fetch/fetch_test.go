package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nugget/sundevil-helper/internal/tools"
)

const eventsPage = `<!DOCTYPE html>
<html>
<head><title> ASU Events | Tempe </title><script>var tracking = 1;</script></head>
<body>
<header>Sign in</header>
<nav>Home | Admissions | Athletics</nav>
<main>
<h1>Events this week</h1>
<p>Fall <strong>Career Fair</strong> at the Memorial Union.</p>
<ul><li>Oct 1, 10am</li><li>Oct 2, 10am</li></ul>
</main>
<footer>Copyright Arizona Board of Regents</footer>
</body>
</html>`

func TestExtractHTML_PrefersMain(t *testing.T) {
	title, text := extractHTML([]byte(eventsPage))

	if title != "ASU Events | Tempe" {
		t.Errorf("title = %q", title)
	}
	want := "Events this week\nFall Career Fair at the Memorial Union.\nOct 1, 10am\nOct 2, 10am"
	if text != want {
		t.Errorf("text =\n%q\nwant\n%q", text, want)
	}
}

func TestExtractHTML_DropsBoilerplateWithoutMain(t *testing.T) {
	_, text := extractHTML([]byte(`<html><body><nav>menu</nav><div>Sun Devil Stadium</div><script>x()</script></body></html>`))
	if text != "Sun Devil Stadium" {
		t.Errorf("text = %q", text)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"asu.edu/events", "https://asu.edu/events", false},
		{` "https://tempe.gov" `, "https://tempe.gov", false},
		{"http://example.com/a?b=c", "http://example.com/a?b=c", false},
		{"", "", true},
		{"ftp://files.asu.edu", "", true},
	}
	for _, tt := range tests {
		got, err := normalizeURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("normalizeURL(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFetch_HTML(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "SunDevilHelper/") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(eventsPage))
	}))
	defer ts.Close()

	page, err := New().Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if page.Title != "ASU Events | Tempe" || page.StatusCode != 200 || page.Truncated {
		t.Errorf("page = %+v", page)
	}
	if !strings.Contains(page.Text, "Career Fair") {
		t.Errorf("text = %q", page.Text)
	}
}

func TestFetch_TruncatesByRune(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("é", 50)))
	}))
	defer ts.Close()

	page, err := New(WithMaxChars(10)).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if !page.Truncated || utf8.RuneCountInString(page.Text) != 10 {
		t.Errorf("page = %+v", page)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	if _, err := New().Fetch(context.Background(), ts.URL); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("err = %v, want HTTP 404", err)
	}
}

func TestFetch_BinaryRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer ts.Close()

	if _, err := New().Fetch(context.Background(), ts.URL); err == nil {
		t.Fatal("expected unsupported content type error")
	}
}

func TestTool_ThroughDispatcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(eventsPage))
	}))
	defer ts.Close()

	reg := tools.NewRegistry(nil)
	reg.Register(Tool(New()))

	res, err := reg.Invoke(context.Background(), ToolName, ts.URL)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].URL != ts.URL || res.Items[0].Title != "ASU Events | Tempe" {
		t.Errorf("result = %+v", res)
	}

	res, err = reg.Invoke(context.Background(), ToolName, "ftp://files.asu.edu")
	if err != nil {
		t.Fatalf("bad url should be an observation, got error %v", err)
	}
	if !res.Failed() || !strings.Contains(res.Error, "unsupported url scheme") {
		t.Errorf("result = %+v", res)
	}
}
