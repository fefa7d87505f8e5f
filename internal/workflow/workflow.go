// Package workflow lists the workflow kinds the engine can drive and what
// each of them accepts and produces.
package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thywilljoshua/slidegen/internal/progress"
)

type Kind string

// Every kind runs the staged outline, render and finalize flow. KindPDF2PPT
// is that flow restricted to PDF input; single-shot conversions that return
// only a finished file have no slides to review and are not offered.
const (
	KindPaper2PPT Kind = "paper2ppt"
	KindPDF2PPT   Kind = "pdf2ppt"
	KindPolish    Kind = "polish"
)

// Mode is how the source reaches the outline call.
type Mode string

const (
	ModeDocument Mode = "document"
	ModeImage    Mode = "image"
	ModeText     Mode = "text"
	ModeTopic    Mode = "topic"
)

const (
	TypePDF  = "application/pdf"
	TypePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	TypePNG  = "image/png"
	TypeJPEG = "image/jpeg"
	TypeWEBP = "image/webp"
)

// Paths are the backend routes for one kind, relative to the endpoint.
type Paths struct {
	Outline  string
	Render   string
	Finalize string
}

// Profile describes one workflow kind.
type Profile struct {
	Kind        Kind
	Title       string
	Modes       map[Mode][]string
	Paths       Paths
	Primary     []string
	Secondary   []string
	OutlineTime []progress.Phase
	RenderTime  []progress.Phase
	SingleTime  []progress.Phase
	FinalTime   []progress.Phase
}

// Accepts reports whether contentType may be submitted in mode.
// Text and topic modes carry no file and accept any empty content type.
func (p Profile) Accepts(mode Mode, contentType string) bool {
	types, ok := p.Modes[mode]
	if !ok {
		return false
	}
	if mode == ModeText || mode == ModeTopic {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, t := range types {
		if t == ct {
			return true
		}
	}
	return false
}

// InputType is the backend's name for a source mode and content type.
func InputType(mode Mode, contentType string) string {
	switch mode {
	case ModeText:
		return "text"
	case ModeTopic:
		return "topic"
	case ModeImage:
		return "image"
	}
	if strings.HasPrefix(strings.ToLower(contentType), TypePPTX) {
		return "pptx"
	}
	return "pdf"
}

const paper2pptBase = "/api/paper2ppt/paper2ppt"

var outlinePhases = []progress.Phase{
	{Label: "uploading source", Expected: 3 * time.Second},
	{Label: "parsing document", Expected: 20 * time.Second},
	{Label: "drafting outline", Expected: 40 * time.Second},
	{Label: "checking layout", Expected: 15 * time.Second},
}

var renderPhases = []progress.Phase{
	{Label: "preparing slides", Expected: 10 * time.Second},
	{Label: "generating slide images", Expected: 120 * time.Second},
	{Label: "collecting results", Expected: 10 * time.Second},
}

var singlePhases = []progress.Phase{
	{Label: "applying instruction", Expected: 5 * time.Second},
	{Label: "regenerating slide", Expected: 30 * time.Second},
}

var finalPhases = []progress.Phase{
	{Label: "assembling deck", Expected: 20 * time.Second},
	{Label: "exporting files", Expected: 20 * time.Second},
}

var profiles = map[Kind]Profile{
	KindPaper2PPT: {
		Kind:  KindPaper2PPT,
		Title: "Paper to slides",
		Modes: map[Mode][]string{
			ModeDocument: {TypePDF, TypePPTX},
			ModeText:     nil,
			ModeTopic:    nil,
		},
		Paths: Paths{
			Outline:  paper2pptBase + "/page-content",
			Render:   paper2pptBase + "/generate",
			Finalize: paper2pptBase + "/generate",
		},
		Primary:     []string{".pptx"},
		Secondary:   []string{".pdf"},
		OutlineTime: outlinePhases,
		RenderTime:  renderPhases,
		SingleTime:  singlePhases,
		FinalTime:   finalPhases,
	},
	KindPDF2PPT: {
		Kind:  KindPDF2PPT,
		Title: "PDF to slides",
		Modes: map[Mode][]string{
			ModeDocument: {TypePDF},
		},
		Paths: Paths{
			Outline:  paper2pptBase + "/page-content",
			Render:   paper2pptBase + "/generate",
			Finalize: paper2pptBase + "/generate",
		},
		Primary:     []string{".pptx"},
		Secondary:   []string{".pdf"},
		OutlineTime: outlinePhases,
		RenderTime:  renderPhases,
		SingleTime:  singlePhases,
		FinalTime:   finalPhases,
	},
	KindPolish: {
		Kind:  KindPolish,
		Title: "Slide polish",
		Modes: map[Mode][]string{
			ModeDocument: {TypePPTX, TypePDF},
			ModeImage:    {TypePNG, TypeJPEG, TypeWEBP},
		},
		Paths: Paths{
			Outline:  paper2pptBase + "/page-content",
			Render:   paper2pptBase + "/generate",
			Finalize: paper2pptBase + "/generate",
		},
		Primary:     []string{".pptx"},
		Secondary:   []string{".pdf", ".png"},
		OutlineTime: outlinePhases[:2],
		RenderTime:  renderPhases,
		SingleTime:  singlePhases,
		FinalTime:   finalPhases,
	},
}

// Lookup returns the profile for kind.
func Lookup(kind Kind) (Profile, error) {
	p, ok := profiles[Kind(strings.ToLower(string(kind)))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown workflow kind %q (want one of %s)", kind, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the registered kinds in stable order.
func Names() []string {
	out := make([]string, 0, len(profiles))
	for k := range profiles {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
