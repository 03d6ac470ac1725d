package extract

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello   world\nLine 2 "), KindText, nil)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world Line 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello\x80world"), KindText, nil)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello�world" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	e := NewExtractor()
	got, err := e.ExtractBytes(buf.Bytes(), KindXLSX, nil)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Title Value 1 Value 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_invalidPDF(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte("not a pdf"), KindPDF, nil); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

func TestExtractBytes_unsupportedKind(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte{0x89, 'P', 'N', 'G'}, "", nil); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

const articlePage = `<!DOCTYPE html>
<html><head><title>  Rust Borrow Checker </title><script>var x = 1;</script></head>
<body>
<nav><a href="/">Home</a></nav>
<main>
<h1>Understanding the borrow checker</h1>
<p>Rust enforces ownership and lifetimes at compile time. Every value has a single owner,
and references must never outlive the data they point to. This paragraph is long enough
for a content extractor to treat it as the main body of the page rather than boilerplate.</p>
<p>Borrowing rules allow either one mutable reference or any number of shared references,
which prevents data races without a garbage collector.</p>
</main>
<footer>Copyright 2024</footer>
</body></html>`

func TestExtractBytes_html(t *testing.T) {
	e := NewExtractor()
	u, _ := url.Parse("https://a.example/rust")
	got, err := e.ExtractBytes([]byte(articlePage), KindHTML, u)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(got, "ownership and lifetimes") {
		t.Errorf("main text missing: %q", got)
	}
	if strings.Contains(got, "<p>") || strings.Contains(got, "var x") {
		t.Errorf("markup or script leaked: %q", got)
	}
	if strings.Contains(got, "  ") || strings.Contains(got, "\n") {
		t.Errorf("whitespace not collapsed: %q", got)
	}
}

func TestSelectorText(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name, html, want string
	}{
		{"main wins", `<body><nav>menu</nav><div>side</div><main>primary text</main></body>`, "primary text"},
		{"class content", `<body><div class="content">by class</div><p>other</p></body>`, "by class"},
		{"id content", `<body><div id="content">by id</div></body>`, "by id"},
		{"skips empty match", `<body><article>  </article><div id="content">second</div></body>`, "second"},
		{"body fallback", `<body><script>x()</script><p>just a body</p></body>`, "just a body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.selectorText([]byte(tt.html))
			if err != nil {
				t.Fatal(err)
			}
			if CollapseWhitespace(got) != tt.want {
				t.Errorf("got %q, want %q", CollapseWhitespace(got), tt.want)
			}
		})
	}
}

func TestHTMLTitle(t *testing.T) {
	if got := HTMLTitle([]byte(articlePage)); got != "Rust Borrow Checker" {
		t.Errorf("HTMLTitle = %q", got)
	}
	if got := HTMLTitle([]byte("<p>no title</p>")); got != "" {
		t.Errorf("HTMLTitle = %q, want empty", got)
	}
}

func TestExtract_files(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("File\tcontent"), 0600); err != nil {
		t.Fatal(err)
	}
	xlsx := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(xlsx); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	e := NewExtractor()
	for path, want := range map[string]string{txt: "File content", xlsx: "Searchable text"} {
		got, err := e.Extract(path)
		if err != nil {
			t.Fatalf("Extract(%s): %v", path, err)
		}
		if got != want {
			t.Errorf("Extract(%s) = %q, want %q", path, got, want)
		}
	}

	if _, err := e.Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestKindFromContentType(t *testing.T) {
	xlsx := "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	tests := []struct {
		ct   string
		want Kind
	}{
		{"text/html; charset=utf-8", KindHTML},
		{"", KindHTML},
		{"application/pdf", KindPDF},
		{"text/plain", KindText},
		{xlsx, KindXLSX},
		{"image/png", ""},
	}
	for _, tt := range tests {
		if got := KindFromContentType(tt.ct); got != tt.want {
			t.Errorf("KindFromContentType(%q) = %q, want %q", tt.ct, got, tt.want)
		}
	}
}

func TestKindFromExtension(t *testing.T) {
	tests := map[string]Kind{".HTML": KindHTML, ".pdf": KindPDF, ".xlsx": KindXLSX, ".md": KindText, "": KindText}
	for ext, want := range tests {
		if got := KindFromExtension(ext); got != want {
			t.Errorf("KindFromExtension(%q) = %q, want %q", ext, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 0, "hello"},
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
