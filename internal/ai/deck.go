package ai

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/slides"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9\-]+`)

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "-", "/", "-", ".", "-").Replace(s)
	s = nonSlug.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// deckMarkdown lays the slides out as one Markdown document with front
// matter, one section per slide.
func deckMarkdown(title string, units []slides.Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---\ntitle: \"%s\"\nslides: %d\n---\n\n", escapeQuotes(title), len(units))
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, u := range units {
		fmt.Fprintf(&b, "## %d. %s\n\n", u.Order, u.Title)
		if u.Artifact != "" {
			fmt.Fprintf(&b, "![Slide %d](%s)\n\n", u.Order, u.Artifact)
		}
		for _, p := range u.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		if len(u.KeyPoints) > 0 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// relRef turns a file:// ref under dir into a relative link, which HTML
// renderers accept where they refuse file URLs.
func relRef(dir, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "file" {
		return ref
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ref
	}
	rel, err := filepath.Rel(abs, filepath.FromSlash(u.Path))
	if err != nil || strings.HasPrefix(rel, "..") {
		return ref
	}
	return filepath.ToSlash(rel)
}

// stripFrontMatter drops a leading --- block so goldmark does not render it.
func stripFrontMatter(md string) string {
	if !strings.HasPrefix(md, "---\n") {
		return md
	}
	if end := strings.Index(md[4:], "\n---\n"); end >= 0 {
		return strings.TrimLeft(md[4+end+5:], "\n")
	}
	return md
}

// writeDeck writes deck.md and deck.html into dir and returns their paths.
func writeDeck(dir string, units []slides.Unit) (string, string, error) {
	if len(units) == 0 {
		return "", "", errinfo.New(errinfo.KindNotReady, string(invoker.OpFinalize), "no slides to assemble")
	}
	title := units[0].Title
	if title == "" {
		title = "Slides"
	}
	name := slugify(title)
	if name == "" {
		name = "deck"
	}

	local := make([]slides.Unit, len(units))
	for i, u := range units {
		u.Artifact = relRef(dir, u.Artifact)
		local[i] = u
	}
	md := deckMarkdown(title, local)
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(stripFrontMatter(md)), &body); err != nil {
		return "", "", fmt.Errorf("render deck html: %w", err)
	}
	page := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n"+
		"<style>img{max-width:100%%;border:1px solid #ddd}section{page-break-after:always}</style>\n"+
		"</head>\n<body>\n%s</body>\n</html>\n", html.EscapeString(title), body.String())

	mdPath := filepath.Join(dir, name+".md")
	htmlPath := filepath.Join(dir, name+".html")
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", mdPath, err)
	}
	if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", htmlPath, err)
	}
	return mdPath, htmlPath, nil
}
