// Package ai runs the slide workflow directly against Google Gemini, for use
// without the hosted generation service.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

// Model is the part of the Gemini API the backend needs. *genai.Models
// satisfies it.
type Model interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type outlineDoc struct {
	Pages []struct {
		Title     string   `json:"title"`
		Layout    string   `json:"layout_description"`
		KeyPoints []string `json:"key_points"`
	} `json:"pages"`
}

const outlineSchema = `{
  "pages": [
    {"title": "Slide title", "layout_description": "How the slide is laid out", "key_points": ["point", "point"]}
  ]
}`

func outlinePrompt(call invoker.OutlineCall) string {
	s := call.Settings
	var b strings.Builder
	b.WriteString("You are planning a slide deck. Return ONLY valid JSON - no markdown code blocks, no explanations.\n\n")
	switch call.Source.Mode {
	case workflow.ModeTopic:
		fmt.Fprintf(&b, "Research the topic below and plan a deck that explains it.\n\nTOPIC: %s\n\n", call.Source.Text)
	case workflow.ModeText:
		fmt.Fprintf(&b, "Plan a deck that presents the following text.\n\nTEXT:\n%s\n\n", call.Source.Text)
	case workflow.ModeImage:
		b.WriteString("The attached image is an existing slide. Plan a polished version of it.\n\n")
	default:
		b.WriteString("Plan a deck that presents the attached document.\n\n")
	}
	if s.PageCount > 0 {
		fmt.Fprintf(&b, "Use exactly %d slides.\n", s.PageCount)
	}
	if s.Language != "" {
		fmt.Fprintf(&b, "Write every title and key point in %s.\n", s.Language)
	}
	if s.Style != "" {
		fmt.Fprintf(&b, "Visual style: %s.\n", s.Style)
	}
	b.WriteString("\nOutput ONLY this JSON structure:\n")
	b.WriteString(outlineSchema)
	b.WriteString("\n\nRULES:\n- key_points: 2 to 5 short phrases per slide\n- layout_description: one sentence a designer can follow\n- DO NOT wrap the response in code fences\n")
	return b.String()
}

func slidePrompt(u slides.Unit, s invoker.Settings, instruction string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Render presentation slide %d as a single image.\n\n", u.Order)
	fmt.Fprintf(&b, "Title: %s\n", u.Title)
	if u.Layout != "" {
		fmt.Fprintf(&b, "Layout: %s\n", u.Layout)
	}
	if len(u.KeyPoints) > 0 {
		b.WriteString("Content:\n")
		for _, p := range u.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if s.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", s.Style)
	}
	if s.Language != "" {
		fmt.Fprintf(&b, "All text on the slide is in %s.\n", s.Language)
	}
	if instruction != "" {
		fmt.Fprintf(&b, "\nThe attached image is the current version. Apply this change and keep everything else: %s\n", instruction)
	}
	return b.String()
}

// parseOutline reads the model's JSON answer, tolerating code fences and
// surrounding prose.
func parseOutline(text string) ([]slides.Draft, error) {
	var doc outlineDoc
	js := stripCodeFences(text)
	if err := json.Unmarshal([]byte(js), &doc); err != nil {
		s := findFirstJSON(js)
		if s == "" {
			return nil, errinfo.Wrap(errinfo.KindMalformed, string(invoker.OpOutline), fmt.Errorf("no JSON in model response: %w", err))
		}
		if err2 := json.Unmarshal([]byte(s), &doc); err2 != nil {
			return nil, errinfo.Wrap(errinfo.KindMalformed, string(invoker.OpOutline), fmt.Errorf("parse model response: %w (original error: %v)", err2, err))
		}
	}
	var out []slides.Draft
	for _, p := range doc.Pages {
		if strings.TrimSpace(p.Title) == "" && len(p.KeyPoints) == 0 {
			continue
		}
		out = append(out, slides.Draft{
			Title:     strings.TrimSpace(p.Title),
			Layout:    strings.TrimSpace(p.Layout),
			KeyPoints: p.KeyPoints,
		})
	}
	if len(out) == 0 {
		return nil, errinfo.New(errinfo.KindMalformed, string(invoker.OpOutline), "model returned no slides")
	}
	return out, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl != -1 {
			s = s[nl+1:]
		}
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

// findFirstJSON returns the first balanced {...} object in s. Braces inside
// strings are not special-cased.
func findFirstJSON(s string) string {
	start := -1
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start != -1 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// firstImage returns the first inline image of the first candidate.
func firstImage(res *genai.GenerateContentResponse) *genai.Blob {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return nil
	}
	for _, p := range res.Candidates[0].Content.Parts {
		if p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "image/") && len(p.InlineData.Data) > 0 {
			return p.InlineData
		}
	}
	return nil
}
