package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/logging"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

// maxReplyBytes bounds how much of a reply body is read.
const maxReplyBytes = 16 << 20

// HTTPBackend calls the hosted generation service with multipart forms.
type HTTPBackend struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPBackend(client *http.Client, logger *slog.Logger) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{client: client, logger: logger}
}

func (b *HTTPBackend) Name() string { return "http" }

func (b *HTTPBackend) Missing(s Settings) []string {
	return missingSettings(s, "endpoint", "chat_api_url", "api_key", "model", "image_model")
}

// AcceptsMode reports whether the page-content route takes mode. It reads
// text, topic, pdf and pptx sources only.
func (b *HTTPBackend) AcceptsMode(_ workflow.Kind, mode workflow.Mode) bool {
	return mode != workflow.ModeImage
}

type pageContent struct {
	Title        string   `json:"title"`
	Layout       string   `json:"layout_description"`
	KeyPoints    []string `json:"key_points"`
	AssetRef     *string  `json:"asset_ref"`
	GeneratedImg string   `json:"generated_img_path,omitempty"`
	PPTImg       string   `json:"ppt_img_path,omitempty"`
}

type outlineBody struct {
	Success     *bool         `json:"success"`
	ResultPath  string        `json:"result_path"`
	PageContent []pageContent `json:"pagecontent"`
	OutputFiles []string      `json:"all_output_files"`
}

type generateBody struct {
	Success     *bool    `json:"success"`
	ResultPath  string   `json:"result_path"`
	PDFPath     string   `json:"ppt_pdf_path"`
	PPTXPath    string   `json:"ppt_pptx_path"`
	OutputFiles []string `json:"all_output_files"`
}

func ok(success *bool) bool { return success == nil || *success }

func (b *HTTPBackend) Outline(ctx context.Context, call OutlineCall) (*OutlineReply, error) {
	profile, err := workflow.Lookup(call.Kind)
	if err != nil {
		return nil, err
	}
	s := call.Settings
	fields := map[string]string{
		"chat_api_url":   s.ChatAPIURL,
		"api_key":        s.APIKey,
		"invite_code":    s.InviteCode,
		"input_type":     workflow.InputType(call.Source.Mode, call.Source.ContentType),
		"model":          s.Model,
		"language":       s.Language,
		"style":          s.Style,
		"gen_fig_model":  s.ImageModel,
		"page_count":     strconv.Itoa(s.PageCount),
		"use_long_paper": "false",
	}
	var file *formFile
	switch call.Source.Mode {
	case workflow.ModeText, workflow.ModeTopic:
		fields["text"] = call.Source.Text
	default:
		file = &formFile{
			field:       "file",
			name:        call.Source.FileName,
			contentType: call.Source.ContentType,
			data:        call.Source.Data,
		}
	}

	var body outlineBody
	if err := b.post(ctx, OpOutline, s.Endpoint+profile.Paths.Outline, fields, file, &body); err != nil {
		return nil, err
	}
	reply := &OutlineReply{
		Success: ok(body.Success),
		Token:   body.ResultPath,
		Refs:    body.OutputFiles,
	}
	for _, pc := range body.PageContent {
		d := slides.Draft{Title: pc.Title, Layout: pc.Layout, KeyPoints: pc.KeyPoints}
		if pc.AssetRef != nil {
			d.SourceAsset = *pc.AssetRef
		} else if pc.PPTImg != "" {
			d.SourceAsset = pc.PPTImg
		}
		reply.Pages = append(reply.Pages, d)
	}
	return reply, nil
}

func (b *HTTPBackend) Render(ctx context.Context, call RenderCall) (*RenderReply, error) {
	profile, err := workflow.Lookup(call.Kind)
	if err != nil {
		return nil, err
	}
	op := OpRenderAll
	fields, err := generateFields(call.Settings, call.Token, call.Units)
	if err != nil {
		return nil, err
	}
	fields["get_down"] = "false"
	fields["all_edited_down"] = "false"
	if call.Index >= 0 {
		op = OpRenderOne
		fields["get_down"] = "true"
		fields["page_id"] = strconv.Itoa(call.Index)
		fields["edit_prompt"] = call.Instruction
	}

	var body generateBody
	if err := b.post(ctx, op, call.Settings.Endpoint+profile.Paths.Render, fields, nil, &body); err != nil {
		return nil, err
	}
	return &RenderReply{Success: ok(body.Success), Refs: body.OutputFiles}, nil
}

func (b *HTTPBackend) Finalize(ctx context.Context, call FinalizeCall) (*FinalizeReply, error) {
	profile, err := workflow.Lookup(call.Kind)
	if err != nil {
		return nil, err
	}
	fields, err := generateFields(call.Settings, call.Token, call.Units)
	if err != nil {
		return nil, err
	}
	fields["get_down"] = "false"
	fields["all_edited_down"] = strconv.FormatBool(call.AllConfirmed)

	var body generateBody
	if err := b.post(ctx, OpFinalize, call.Settings.Endpoint+profile.Paths.Finalize, fields, nil, &body); err != nil {
		return nil, err
	}
	return &FinalizeReply{
		Success:   ok(body.Success),
		Primary:   body.PPTXPath,
		Secondary: body.PDFPath,
		Refs:      body.OutputFiles,
	}, nil
}

func generateFields(s Settings, token string, units []slides.Unit) (map[string]string, error) {
	pcs := make([]pageContent, len(units))
	for i, u := range units {
		pc := pageContent{
			Title:        u.Title,
			Layout:       u.Layout,
			KeyPoints:    u.KeyPoints,
			GeneratedImg: u.Artifact,
		}
		if pc.KeyPoints == nil {
			pc.KeyPoints = []string{}
		}
		if u.SourceAsset != "" {
			ref := u.SourceAsset
			pc.AssetRef = &ref
		}
		pcs[i] = pc
	}
	raw, err := json.Marshal(pcs)
	if err != nil {
		return nil, fmt.Errorf("encode pagecontent: %w", err)
	}
	return map[string]string{
		"img_gen_model_name": s.ImageModel,
		"chat_api_url":       s.ChatAPIURL,
		"api_key":            s.APIKey,
		"invite_code":        s.InviteCode,
		"style":              s.Style,
		"aspect_ratio":       s.AspectRatio,
		"language":           s.Language,
		"model":              s.Model,
		"result_path":        token,
		"pagecontent":        string(raw),
	}, nil
}

type formFile struct {
	field       string
	name        string
	contentType string
	data        []byte
}

func (b *HTTPBackend) post(ctx context.Context, op Operation, url string, fields map[string]string, file *formFile, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.name))
		h.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(file.data); err != nil {
			return fmt.Errorf("write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return errinfo.Wrap(errinfo.KindMissingConfig, string(op), err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	b.logger.Debug("posting generation request", "op", op, "url", url, "fields", logging.RedactFields(fields))

	return b.do(req, op, out)
}

func (b *HTTPBackend) do(req *http.Request, op Operation, out any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return errinfo.Wrap(errinfo.KindAbandoned, string(op), err)
		}
		return errinfo.Wrap(errinfo.KindUnavailable, string(op), err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			b.logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return errinfo.Wrap(errinfo.KindUnavailable, string(op), err)
	}
	if err := statusError(op, resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errinfo.Wrap(errinfo.KindMalformed, string(op), fmt.Errorf("decode reply: %w", err))
	}
	return nil
}

// statusError maps a non-2xx status onto the user-facing categories.
func statusError(op Operation, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	detail := replyDetail(body)
	switch status {
	case http.StatusForbidden, http.StatusUnauthorized:
		return errinfo.Remote(errinfo.KindForbidden, string(op), status, detail)
	case http.StatusTooManyRequests:
		return errinfo.Remote(errinfo.KindRateLimited, string(op), status, detail)
	default:
		return errinfo.Remote(errinfo.KindUnavailable, string(op), status, detail)
	}
}

// replyDetail pulls the error text out of a FastAPI-style {"detail": ...}.
func replyDetail(body []byte) string {
	var v struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &v); err == nil {
		if s, ok := v.Detail.(string); ok && s != "" {
			return s
		}
		if v.Error != "" {
			return v.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
