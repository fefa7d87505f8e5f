package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	genai "google.golang.org/genai"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

// Gemini implements invoker.Backend. Outlines come from a text model, slide
// images from an image model, and runs live under workdir/<token>.
type Gemini struct {
	models   Model
	workdir  string
	parallel int
	logger   *slog.Logger
}

// NewGemini builds a backend around a Gemini API client.
func NewGemini(ctx context.Context, apiKey, workdir string, parallel int, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errinfo.New(errinfo.KindMissingConfig, "gemini", "missing Gemini API key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return New(c.Models, workdir, parallel, logger), nil
}

// New wraps any Model. parallel bounds concurrent slide renders.
func New(models Model, workdir string, parallel int, logger *slog.Logger) *Gemini {
	if parallel <= 0 {
		parallel = 4
	}
	if workdir == "" {
		workdir = filepath.Join(os.TempDir(), "slidegen")
	}
	return &Gemini{models: models, workdir: workdir, parallel: parallel, logger: logger}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Missing(s invoker.Settings) []string {
	var out []string
	if strings.TrimSpace(s.Model) == "" {
		out = append(out, "model")
	}
	if strings.TrimSpace(s.ImageModel) == "" {
		out = append(out, "image_model")
	}
	return out
}

func (g *Gemini) runDir(token string) (string, error) {
	if token == "" || filepath.Base(token) != token || token == "." || token == ".." {
		return "", errinfo.New(errinfo.KindMissingConfig, "gemini", fmt.Sprintf("run token %q is not a gemini run", token))
	}
	return filepath.Join(g.workdir, token), nil
}

func (g *Gemini) Outline(ctx context.Context, call invoker.OutlineCall) (*invoker.OutlineReply, error) {
	src := call.Source
	if src.ContentType == workflow.TypePPTX {
		return nil, errinfo.New(errinfo.KindUnsupportedSource, string(invoker.OpOutline), "the gemini backend cannot read pptx files, export to pdf first")
	}
	token := uuid.NewString()
	dir, _ := g.runDir(token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	parts := []*genai.Part{genai.NewPartFromText(outlinePrompt(call))}
	if len(src.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(src.Data, src.ContentType))
	}
	res, err := g.models.GenerateContent(ctx, call.Settings.Model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return nil, classify(invoker.OpOutline, err)
	}
	drafts, err := parseOutline(res.Text())
	if err != nil {
		return nil, err
	}

	reply := &invoker.OutlineReply{Success: true, Token: token}
	if src.Mode == workflow.ModeImage {
		path := filepath.Join(dir, "source"+imageExt(src.ContentType))
		if err := os.WriteFile(path, src.Data, 0o644); err != nil {
			return nil, fmt.Errorf("save source image: %w", err)
		}
		ref := fileRef(path)
		for i := range drafts {
			if drafts[i].SourceAsset == "" {
				drafts[i].SourceAsset = ref
			}
		}
		reply.Refs = append(reply.Refs, ref)
	}
	reply.Pages = drafts
	g.logger.Info("gemini outline ready", "token", token, "slides", len(drafts), "model", call.Settings.Model)
	return reply, nil
}

// Render draws the requested slides. In a batch a failed slide is logged and
// left out so the resolver falls back to its source; the batch only fails
// when no slide could be drawn.
func (g *Gemini) Render(ctx context.Context, call invoker.RenderCall) (*invoker.RenderReply, error) {
	dir, err := g.runDir(call.Token)
	if err != nil {
		return nil, err
	}
	single := call.Index >= 0
	var indices []int
	if single {
		indices = []int{call.Index}
	} else {
		for i := range call.Units {
			indices = append(indices, i)
		}
	}

	var (
		mu       sync.Mutex
		refs     []string
		firstErr error
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallel)
	for _, i := range indices {
		eg.Go(func() error {
			ref, err := g.renderSlide(ectx, dir, call, i, single)
			if err != nil {
				if single || errors.Is(err, context.Canceled) {
					return err
				}
				g.logger.Warn("slide render failed", "token", call.Token, "slide", i+1, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			mu.Lock()
			refs = append(refs, ref)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if len(refs) == 0 && firstErr != nil {
		return nil, firstErr
	}
	sort.Strings(refs)
	return &invoker.RenderReply{Success: true, Refs: refs}, nil
}

func (g *Gemini) renderSlide(ctx context.Context, dir string, call invoker.RenderCall, i int, single bool) (string, error) {
	op := invoker.OpRenderAll
	instruction := ""
	if single {
		op = invoker.OpRenderOne
		instruction = call.Instruction
	}
	u := call.Units[i]
	parts := []*genai.Part{genai.NewPartFromText(slidePrompt(u, call.Settings, instruction))}
	if single {
		if data, mt, ok := readLocal(u.Artifact); ok {
			parts = append(parts, genai.NewPartFromBytes(data, mt))
		}
	}
	cfg := &genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE", "TEXT"}}
	if call.Settings.AspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: call.Settings.AspectRatio}
	}
	res, err := g.models.GenerateContent(ctx, call.Settings.ImageModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", classify(op, err)
	}
	blob := firstImage(res)
	if blob == nil {
		return "", errinfo.New(errinfo.KindMalformed, string(op), fmt.Sprintf("no image returned for slide %d", i+1))
	}

	out := dir
	if single {
		// Edits get their own directory so earlier refs stay valid.
		out = filepath.Join(dir, "edits", uuid.NewString()[:8])
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", fmt.Errorf("create slide dir: %w", err)
	}
	path := filepath.Join(out, fmt.Sprintf("slide_%03d%s", i, imageExt(blob.MIMEType)))
	if err := os.WriteFile(path, blob.Data, 0o644); err != nil {
		return "", fmt.Errorf("write slide %d: %w", i+1, err)
	}
	return fileRef(path), nil
}

func (g *Gemini) Finalize(ctx context.Context, call invoker.FinalizeCall) (*invoker.FinalizeReply, error) {
	dir, err := g.runDir(call.Token)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errinfo.Wrap(errinfo.KindAbandoned, string(invoker.OpFinalize), err)
	}
	md, html, err := writeDeck(dir, call.Units)
	if err != nil {
		return nil, err
	}
	g.logger.Info("gemini deck assembled", "token", call.Token, "html", html)
	return &invoker.FinalizeReply{
		Success:   true,
		Primary:   fileRef(html),
		Secondary: fileRef(md),
		Refs:      []string{fileRef(html), fileRef(md)},
	}, nil
}

// classify maps Gemini API failures onto error kinds.
func classify(op invoker.Operation, err error) error {
	if errors.Is(err, context.Canceled) {
		return errinfo.Wrap(errinfo.KindAbandoned, string(op), err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errinfo.Remote(errinfo.KindForbidden, string(op), apiErr.Code, apiErr.Message)
		case http.StatusTooManyRequests:
			return errinfo.Remote(errinfo.KindRateLimited, string(op), apiErr.Code, apiErr.Message)
		case http.StatusBadRequest:
			return errinfo.Remote(errinfo.KindUnsupportedSource, string(op), apiErr.Code, apiErr.Message)
		default:
			return errinfo.Remote(errinfo.KindUnavailable, string(op), apiErr.Code, apiErr.Message)
		}
	}
	return errinfo.Wrap(errinfo.KindUnavailable, string(op), err)
}

func imageExt(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func fileRef(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// readLocal loads a file:// ref written by an earlier render.
func readLocal(ref string) ([]byte, string, bool) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "file" {
		return nil, "", false
	}
	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	if err != nil || len(data) == 0 {
		return nil, "", false
	}
	return data, http.DetectContentType(data), true
}
