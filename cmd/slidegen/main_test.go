package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thywilljoshua/slidegen/internal/workflow"
)

func TestParseEdits(t *testing.T) {
	edits, err := parseEdits([]string{"2=make it blue", " 1 = shorter title "})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "make it blue", 0: "shorter title"}, edits)
	assert.Equal(t, []int{0, 1}, editOrder(edits))

	for _, bad := range []string{"make it blue", "0=x", "two=x", "3="} {
		_, err := parseEdits([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestReadSource(t *testing.T) {
	src, err := readSource(nil, sourceFlags{topic: "Retrieval augmented generation"})
	require.NoError(t, err)
	assert.Equal(t, workflow.ModeTopic, src.Mode)

	_, err = readSource(nil, sourceFlags{text: "a", topic: "b"})
	assert.Error(t, err)
	_, err = readSource(nil, sourceFlags{})
	assert.Error(t, err)

	dir := t.TempDir()
	png := filepath.Join(dir, "page.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n0000"), 0o644))
	src, err = readSource([]string{png}, sourceFlags{})
	require.NoError(t, err)
	assert.Equal(t, workflow.ModeImage, src.Mode)
	assert.Equal(t, workflow.TypePNG, src.ContentType)
	assert.Equal(t, "page.png", src.FileName)

	pdf := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))
	src, err = readSource([]string{pdf}, sourceFlags{})
	require.NoError(t, err)
	assert.Equal(t, workflow.ModeDocument, src.Mode)
	assert.Equal(t, workflow.TypePDF, src.ContentType)
}

// fakeService mimics the hosted generation service for two slides.
type fakeService struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/paper2ppt/paper2ppt/page-content", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f.record("outline:" + r.FormValue("input_type"))
		json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"result_path": "run1",
			"pagecontent": []map[string]any{
				{"title": "Why RAG", "layout_description": "title", "key_points": []string{"grounding"}},
				{"title": "Retriever", "layout_description": "two column", "key_points": []string{"bm25", "dense"}},
			},
		})
	})
	mux.HandleFunc("/api/paper2ppt/paper2ppt/generate", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		switch {
		case r.FormValue("all_edited_down") == "true":
			f.record("finalize")
			json.NewEncoder(w).Encode(map[string]any{
				"success":       true,
				"ppt_pptx_path": "outputs/run1/deck.pptx",
				"ppt_pdf_path":  "outputs/run1/deck.pdf",
			})
		case r.FormValue("get_down") == "true":
			f.record("render_one:" + r.FormValue("page_id") + ":" + r.FormValue("edit_prompt"))
			json.NewEncoder(w).Encode(map[string]any{
				"success":          true,
				"all_output_files": []string{"outputs/run1/edit1/slide_001.png"},
			})
		default:
			f.record("render_all")
			json.NewEncoder(w).Encode(map[string]any{
				"success":          true,
				"all_output_files": []string{"outputs/run1/slide_000.png", "outputs/run1/slide_001.png"},
			})
		}
	})
	mux.HandleFunc("/outputs/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Path)
	})
	return mux
}

func (f *fakeService) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`
backend: http
rate:
  per_minute: 0
quota:
  store: memory
identity:
  fingerprint_file: %[1]s/fingerprint
prefs:
  path: %[1]s/prefs.json
output:
  dir: %[1]s/out
  colors: false
`, filepath.ToSlash(dir))
	path := filepath.Join(dir, "slidegen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGenerateEndToEnd(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{
		"--config", writeTestConfig(t, dir),
		"generate",
		"--text", "Retrieval augmented generation grounds answers in documents.",
		"--endpoint", srv.URL,
		"--chat-api-url", "https://llm.example/v1",
		"--api-key", "sk-test-1234",
		"--model", "gpt-5.1",
		"--image-model", "gemini-2.5-flash-image",
		"--edit", "2=use a diagram",
	})
	require.NoError(t, root.Execute(), stderr.String())

	assert.Equal(t, []string{
		"outline:text",
		"render_all",
		"render_one:1:use a diagram",
		"finalize",
	}, svc.calls)

	var res runResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.Equal(t, "run1", res.Token)
	require.Len(t, res.Slides, 2)
	assert.Equal(t, "outputs/run1/slide_000.png", res.Slides[0].Artifact)
	assert.Equal(t, "outputs/run1/edit1/slide_001.png", res.Slides[1].Artifact)
	require.NotNil(t, res.Final)
	assert.Equal(t, "outputs/run1/deck.pptx", res.Final.Primary)

	deck, err := os.ReadFile(filepath.Join(dir, "out", "deck.pptx"))
	require.NoError(t, err)
	assert.Equal(t, "/outputs/run1/deck.pptx", string(deck))
	assert.FileExists(t, filepath.Join(dir, "out", "slide_000.png"))

	// The settings that produced an outline are remembered per kind.
	saved, err := os.ReadFile(filepath.Join(dir, "prefs.json"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), `"paper2ppt"`)
	assert.Contains(t, string(saved), srv.URL)
	assert.NotContains(t, stderr.String(), "sk-test-1234")
}

func TestGenerateMissingSettingsFailsBeforeAnyCall(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{
		"--config", writeTestConfig(t, dir),
		"generate", "--topic", "RAG", "--endpoint", srv.URL,
	})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing"), err.Error())
	assert.Empty(t, svc.calls)
	assert.NoFileExists(t, filepath.Join(dir, "prefs.json"))
}
