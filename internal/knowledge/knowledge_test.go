package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// fakeEmbedder maps known texts to fixed vectors; anything else gets
// the fallback (nil by default).
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	calls    int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) []float32 {
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return f.fallback
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustAdd := func(source, text string, v []float32) {
		t.Helper()
		if err := s.Add(ctx, source, text, v); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	mustAdd("metodo_noruego", "Umbral doble", []float32{1, 0, 0})
	mustAdd("fisiologia", "Lactato", []float32{0.8, 0.6, 0})
	mustAdd("otro", "Natación", []float32{0, 0, 1})

	r := NewRetriever(s, &fakeEmbedder{vectors: map[string][]float32{"umbral": {1, 0, 0}}}, nil)
	got := r.Retrieve(ctx, "umbral", 5)

	want := contextPreamble + "[metodo_noruego]\nUmbral doble" + chunkSeparator + "[fisiologia]\nLactato"
	if got != want {
		t.Errorf("Retrieve() =\n%q\nwant\n%q", got, want)
	}
}

func TestRetrieve_LimitAppliesBeforeFloor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.Add(ctx, "a", "best", []float32{1, 0})
	_ = s.Add(ctx, "b", "second", []float32{0.9, 0.1})

	r := NewRetriever(s, &fakeEmbedder{fallback: []float32{1, 0}}, nil)
	hits := r.Search(ctx, "q", 1)
	if len(hits) != 1 || hits[0].Text != "best" {
		t.Errorf("Search(limit=1) = %+v", hits)
	}
}

func TestRetrieve_TopOfTenAboveFloor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Nine weak or opposed passages and one modestly relevant one
	// (cosine about 0.29), inserted in the middle of the table.
	weak := [][]float32{{0, 1}, {-1, 0}, {0.05, 1}, {-1, 1}, {0.08, 1}, {0, -1}, {-0.5, 1}, {0.02, 1}, {-1, -1}}
	for i, v := range weak[:5] {
		if err := s.Add(ctx, "ruido", fmt.Sprintf("pasaje debil %d", i), v); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := s.Add(ctx, "relevante", "Rodaje suave en zona 2", []float32{0.3, 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for i, v := range weak[5:] {
		if err := s.Add(ctx, "ruido", fmt.Sprintf("pasaje debil %d", i+5), v); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	r := NewRetriever(s, &fakeEmbedder{fallback: []float32{1, 0}}, nil)

	hits := r.Search(ctx, "zona 2", 5)
	if len(hits) != 1 || hits[0].Source != "relevante" {
		t.Fatalf("Search = %+v, want only the relevant passage", hits)
	}
	if hits[0].Score <= MinScore {
		t.Errorf("score = %v, want above %v", hits[0].Score, MinScore)
	}

	got := r.Retrieve(ctx, "zona 2", 5)
	if !strings.Contains(got, "[relevante]\nRodaje suave en zona 2") {
		t.Errorf("context missing relevant passage:\n%s", got)
	}
	if strings.Contains(got, "pasaje debil") {
		t.Errorf("context includes passages at or below the floor:\n%s", got)
	}
}

func TestRetrieve_SoftFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no embedding", func(t *testing.T) {
		s := newTestStore(t)
		_ = s.Add(ctx, "a", "text", []float32{1, 0})
		r := NewRetriever(s, &fakeEmbedder{}, nil)
		if got := r.Retrieve(ctx, "q", 5); got != "" {
			t.Errorf("expected empty context, got %q", got)
		}
	})

	t.Run("empty store", func(t *testing.T) {
		r := NewRetriever(newTestStore(t), &fakeEmbedder{fallback: []float32{1}}, nil)
		if got := r.Retrieve(ctx, "q", 5); got != "" {
			t.Errorf("expected empty context, got %q", got)
		}
	})

	t.Run("all below floor", func(t *testing.T) {
		s := newTestStore(t)
		_ = s.Add(ctx, "a", "orthogonal", []float32{0, 1})
		_ = s.Add(ctx, "b", "weak", []float32{0.1, 1})
		r := NewRetriever(s, &fakeEmbedder{fallback: []float32{1, 0}}, nil)
		if got := r.Retrieve(ctx, "q", 5); got != "" {
			t.Errorf("expected empty context, got %q", got)
		}
	})

	t.Run("corrupt vector scores zero", func(t *testing.T) {
		s := newTestStore(t)
		_ = s.Add(ctx, "good", "ok", []float32{1, 0})
		if _, err := s.db.Exec(`INSERT INTO knowledge_chunks (source, text, embedding_json, created_at) VALUES ('bad', 'broken', 'not json', '')`); err != nil {
			t.Fatalf("insert corrupt row: %v", err)
		}
		r := NewRetriever(s, &fakeEmbedder{fallback: []float32{1, 0}}, nil)
		hits := r.Search(ctx, "q", 5)
		if len(hits) != 1 || hits[0].Source != "good" {
			t.Errorf("Search() = %+v", hits)
		}
	})
}

func TestChunkText(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		got := ChunkText("  corre suave  ")
		if len(got) != 1 || got[0] != "corre suave" {
			t.Errorf("ChunkText() = %q", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := ChunkText("   "); len(got) != 0 {
			t.Errorf("ChunkText() = %q", got)
		}
	})

	t.Run("long text overlaps and ends", func(t *testing.T) {
		text := strings.Repeat("palabra ", 400) // 3200 chars
		got := ChunkText(text)
		if len(got) < 4 {
			t.Fatalf("expected at least 4 chunks, got %d", len(got))
		}
		for i, c := range got {
			n := utf8.RuneCountInString(c)
			if n > ChunkSize+len("palabra ") {
				t.Errorf("chunk %d has %d chars", i, n)
			}
		}
		last := got[len(got)-1]
		if !strings.HasSuffix(last, "palabra") {
			t.Errorf("last chunk should reach the end of the text, got %q", last[len(last)-20:])
		}
	})

	t.Run("no spaces", func(t *testing.T) {
		got := ChunkText(strings.Repeat("x", 1700))
		if len(got) != 3 {
			t.Errorf("expected 3 chunks, got %d", len(got))
		}
	})
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	emb := &fakeEmbedder{
		vectors:  map[string][]float32{"skip me": nil},
		fallback: []float32{0.5, 0.5},
	}
	in := NewIngester(s, emb, nil)

	res, err := in.Ingest(ctx, []Document{
		{Source: "a", Text: "Series de 400 metros al ritmo de 5 km."},
		{Source: "b", Text: "skip me"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 inserted 1 skipped", res)
	}

	sources, err := s.Sources(ctx)
	if err != nil || len(sources) != 1 || sources[0].Source != "a" {
		t.Errorf("Sources() = %+v, %v", sources, err)
	}

	n, err := s.Clear(ctx, "a")
	if err != nil || n != 1 {
		t.Errorf("Clear(a) = %d, %v", n, err)
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.Add(ctx, "a", "x", []float32{1})
	_ = s.Add(ctx, "b", "y", []float32{1})

	n, err := s.Clear(ctx, "")
	if err != nil || n != 2 {
		t.Errorf("Clear() = %d, %v; want 2", n, err)
	}
}

func TestExtractMarkdown(t *testing.T) {
	got, err := ExtractMarkdown([]byte("# Método noruego\n\nDos sesiones de **umbral** por semana.\n\n- Lunes: [descanso](http://x)\n"))
	if err != nil {
		t.Fatalf("ExtractMarkdown: %v", err)
	}
	want := "Método noruego\nDos sesiones de umbral por semana.\nLunes: descanso"
	if got != want {
		t.Errorf("ExtractMarkdown() =\n%q\nwant\n%q", got, want)
	}
}

func TestExtractHTML(t *testing.T) {
	raw := `<html><head><title>t</title><style>p{}</style></head>
<body><nav>menu</nav><h1>Zonas</h1><p>Zona 2 es   aeróbica.</p><script>x()</script></body></html>`
	got := ExtractHTML(raw)
	if got != "Zonas\nZona 2 es aeróbica." {
		t.Errorf("ExtractHTML() = %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guia.md")
	if err := os.WriteFile(path, []byte("## Rodaje\n\nSuave\ny largo."), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := LoadFile(path, "")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if doc.Source != "guia.md" {
		t.Errorf("Source = %q", doc.Source)
	}
	if doc.Text != "Rodaje Suave y largo." {
		t.Errorf("Text = %q", doc.Text)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.txt"), "x"); err == nil {
		t.Error("expected error for missing file")
	}
}
