// Package invoker issues the remote generation calls of a workflow run.
//
// One Invoke is one billable remote call. Admission checks run first and never
// touch the network; whatever a Backend returns is normalized into a Result by
// the artifact resolver, and every failure comes back as an *errinfo.Error.
package invoker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

type Operation string

const (
	OpOutline   Operation = "outline"
	OpRenderAll Operation = "render_all"
	OpRenderOne Operation = "render_one"
	OpFinalize  Operation = "finalize"
)

// Source is what the user submits at intake.
type Source struct {
	Mode        workflow.Mode
	FileName    string
	ContentType string
	Data        []byte
	Text        string
}

// Settings is the remote configuration carried on every call of a run.
type Settings struct {
	Endpoint    string `json:"endpoint,omitempty"`
	ChatAPIURL  string `json:"chat_api_url,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	Model       string `json:"model,omitempty"`
	ImageModel  string `json:"image_model,omitempty"`
	Language    string `json:"language,omitempty"`
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	PageCount   int    `json:"page_count,omitempty"`
	InviteCode  string `json:"invite_code,omitempty"`
}

// Request is one logical operation. AllConfirmed marks a finalize call over
// a deck the user has accepted.
type Request struct {
	Op           Operation
	Kind         workflow.Kind
	Token        string
	Source       *Source
	Settings     Settings
	Units        []slides.Unit
	Index        int
	Instruction  string
	AllConfirmed bool
}

// UnitArtifact is the render result for one slide.
type UnitArtifact struct {
	Index   int
	UnitID  string
	Ref     string
	Matched bool
}

type Result struct {
	Token     string
	Outline   []slides.Draft
	Units     []UnitArtifact
	Primary   string
	Secondary string
	Refs      []string
}

type OutlineCall struct {
	Kind     workflow.Kind
	Source   Source
	Settings Settings
}

type OutlineReply struct {
	Success bool
	Token   string
	Pages   []slides.Draft
	Refs    []string
}

// RenderCall renders every slide when Index is negative, else only Index.
type RenderCall struct {
	Kind        workflow.Kind
	Token       string
	Settings    Settings
	Units       []slides.Unit
	Index       int
	Instruction string
}

type RenderReply struct {
	Success bool
	Refs    []string
}

type FinalizeCall struct {
	Kind         workflow.Kind
	Token        string
	Settings     Settings
	Units        []slides.Unit
	AllConfirmed bool
}

type FinalizeReply struct {
	Success   bool
	Primary   string
	Secondary string
	Refs      []string
}

// Backend talks to one generation service.
type Backend interface {
	Name() string
	// Missing lists required settings that are empty for this backend.
	Missing(s Settings) []string
	Outline(ctx context.Context, call OutlineCall) (*OutlineReply, error)
	Render(ctx context.Context, call RenderCall) (*RenderReply, error)
	Finalize(ctx context.Context, call FinalizeCall) (*FinalizeReply, error)
}

// ModeFilter is implemented by backends that take only some of the intake
// modes a workflow profile allows.
type ModeFilter interface {
	AcceptsMode(kind workflow.Kind, mode workflow.Mode) bool
}

type Limits struct {
	MaxSourceBytes int64
	MaxTextChars   int
	MaxPages       int
}

type Invoker struct {
	backend  Backend
	limits   Limits
	limiter  *rate.Limiter
	resolver Resolver
	logger   *slog.Logger
}

type Option func(*Invoker)

// WithRate spaces calls so that at most perMinute start each minute.
func WithRate(perMinute, burst int) Option {
	return func(iv *Invoker) {
		if perMinute <= 0 {
			iv.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		iv.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

func New(backend Backend, limits Limits, logger *slog.Logger, opts ...Option) *Invoker {
	iv := &Invoker{
		backend: backend,
		limits:  limits,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(iv)
	}
	return iv
}

// Invoke runs one operation. Every error is an *errinfo.Error.
func (iv *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	profile, err := workflow.Lookup(req.Kind)
	if err != nil {
		return nil, errinfo.Wrap(errinfo.KindMissingConfig, string(req.Op), err)
	}
	if err := iv.admit(profile, req); err != nil {
		return nil, err
	}
	if iv.limiter != nil {
		if err := iv.limiter.Wait(ctx); err != nil {
			return nil, errinfo.Wrap(errinfo.KindAbandoned, string(req.Op), err)
		}
	}

	start := time.Now()
	res, err := iv.dispatch(ctx, profile, req)
	if err != nil {
		err = normalize(req.Op, err)
		iv.logger.Warn("generation call failed",
			"op", req.Op,
			"kind", req.Kind,
			"backend", iv.backend.Name(),
			"error_kind", errinfo.KindOf(err),
			"elapsed", time.Since(start),
			"error", err)
		return nil, err
	}
	iv.logger.Info("generation call finished",
		"op", req.Op,
		"kind", req.Kind,
		"backend", iv.backend.Name(),
		"refs", len(res.Refs),
		"elapsed", time.Since(start))
	return res, nil
}

func (iv *Invoker) dispatch(ctx context.Context, profile workflow.Profile, req Request) (*Result, error) {
	op := string(req.Op)
	switch req.Op {
	case OpOutline:
		reply, err := iv.backend.Outline(ctx, OutlineCall{Kind: req.Kind, Source: *req.Source, Settings: req.Settings})
		if err != nil {
			return nil, err
		}
		if reply == nil || !reply.Success {
			return nil, errinfo.New(errinfo.KindUnavailable, op, "backend reported failure")
		}
		return iv.resolver.Outline(reply)
	case OpRenderAll, OpRenderOne:
		index := -1
		if req.Op == OpRenderOne {
			index = req.Index
		}
		reply, err := iv.backend.Render(ctx, RenderCall{
			Kind:        req.Kind,
			Token:       req.Token,
			Settings:    req.Settings,
			Units:       req.Units,
			Index:       index,
			Instruction: req.Instruction,
		})
		if err != nil {
			return nil, err
		}
		if reply == nil || !reply.Success {
			return nil, errinfo.New(errinfo.KindUnavailable, op, "backend reported failure")
		}
		if req.Op == OpRenderOne {
			return iv.resolver.Single(reply.Refs, req.Units, req.Index), nil
		}
		return iv.resolver.Batch(reply.Refs, req.Units), nil
	case OpFinalize:
		reply, err := iv.backend.Finalize(ctx, FinalizeCall{
			Kind:         req.Kind,
			Token:        req.Token,
			Settings:     req.Settings,
			Units:        req.Units,
			AllConfirmed: req.AllConfirmed,
		})
		if err != nil {
			return nil, err
		}
		if reply == nil || !reply.Success {
			return nil, errinfo.New(errinfo.KindUnavailable, op, "backend reported failure")
		}
		return iv.resolver.Final(profile, reply)
	default:
		return nil, errinfo.New(errinfo.KindMissingConfig, op, "unknown operation")
	}
}

// normalize turns any backend failure into a typed error.
func normalize(op Operation, err error) error {
	var e *errinfo.Error
	if errors.As(err, &e) {
		if e.Op == "" {
			c := *e
			c.Op = string(op)
			return &c
		}
		return e
	}
	if errors.Is(err, context.Canceled) {
		return errinfo.Wrap(errinfo.KindAbandoned, string(op), err)
	}
	return errinfo.Wrap(errinfo.KindUnavailable, string(op), err)
}

func missingSettings(s Settings, names ...string) []string {
	var out []string
	for _, name := range names {
		var v string
		switch name {
		case "endpoint":
			v = s.Endpoint
		case "chat_api_url":
			v = s.ChatAPIURL
		case "api_key":
			v = s.APIKey
		case "model":
			v = s.Model
		case "image_model":
			v = s.ImageModel
		}
		if strings.TrimSpace(v) == "" {
			out = append(out, name)
		}
	}
	return out
}
