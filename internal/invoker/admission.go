package invoker

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	rpdf "rsc.io/pdf"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

// admit rejects a request locally. Nothing here touches the network.
func (iv *Invoker) admit(profile workflow.Profile, req Request) error {
	op := string(req.Op)
	if missing := iv.backend.Missing(req.Settings); len(missing) > 0 {
		return errinfo.New(errinfo.KindMissingConfig, op, "missing "+strings.Join(missing, ", "))
	}
	switch req.Op {
	case OpOutline:
		if req.Source == nil {
			return errinfo.New(errinfo.KindMissingConfig, op, "source is required")
		}
		return iv.admitSource(profile, op, req.Source)
	case OpRenderAll, OpRenderOne, OpFinalize:
		if strings.TrimSpace(req.Token) == "" {
			return errinfo.New(errinfo.KindMissingConfig, op, "run token is required after outline")
		}
		if len(req.Units) == 0 {
			return errinfo.New(errinfo.KindNotReady, op, "no slides to send")
		}
		if req.Op == OpRenderOne {
			if req.Index < 0 || req.Index >= len(req.Units) {
				return errinfo.New(errinfo.KindNotReady, op, fmt.Sprintf("slide index %d out of range", req.Index))
			}
			if strings.TrimSpace(req.Instruction) == "" {
				return errinfo.New(errinfo.KindMissingConfig, op, "instruction is required to re-render a slide")
			}
		}
		if req.Op == OpFinalize {
			if !req.AllConfirmed {
				return errinfo.New(errinfo.KindNotReady, op, "slides have not been confirmed")
			}
			for _, u := range req.Units {
				if u.Status != slides.StatusDone {
					return errinfo.New(errinfo.KindNotReady, op, fmt.Sprintf("slide %d is %s", u.Order, u.Status))
				}
			}
		}
		return nil
	default:
		return errinfo.New(errinfo.KindMissingConfig, op, "unknown operation")
	}
}

func (iv *Invoker) admitSource(profile workflow.Profile, op string, src *Source) error {
	if f, ok := iv.backend.(ModeFilter); ok && !f.AcceptsMode(profile.Kind, src.Mode) {
		return errinfo.New(errinfo.KindUnsupportedSource, op,
			fmt.Sprintf("%s input for %s is not supported by the %s backend", src.Mode, profile.Kind, iv.backend.Name()))
	}
	switch src.Mode {
	case workflow.ModeText, workflow.ModeTopic:
		if !profile.Accepts(src.Mode, "") {
			return errinfo.New(errinfo.KindUnsupportedSource, op, fmt.Sprintf("%s input is not accepted by %s", src.Mode, profile.Kind))
		}
		if strings.TrimSpace(src.Text) == "" {
			return errinfo.New(errinfo.KindMissingConfig, op, fmt.Sprintf("%s is empty", src.Mode))
		}
		if iv.limits.MaxTextChars > 0 && utf8.RuneCountInString(src.Text) > iv.limits.MaxTextChars {
			return errinfo.New(errinfo.KindPayloadTooLarge, op, fmt.Sprintf("text exceeds %d characters", iv.limits.MaxTextChars))
		}
		return nil
	case workflow.ModeDocument, workflow.ModeImage:
	default:
		return errinfo.New(errinfo.KindUnsupportedSource, op, fmt.Sprintf("unknown input mode %q", src.Mode))
	}

	if len(src.Data) == 0 {
		return errinfo.New(errinfo.KindMissingConfig, op, "file is empty")
	}
	if iv.limits.MaxSourceBytes > 0 && int64(len(src.Data)) > iv.limits.MaxSourceBytes {
		return errinfo.New(errinfo.KindPayloadTooLarge, op,
			fmt.Sprintf("%s is %d bytes, limit is %d", src.FileName, len(src.Data), iv.limits.MaxSourceBytes))
	}
	ct := DetectContentType(src.FileName, src.ContentType, src.Data)
	if !profile.Accepts(src.Mode, ct) {
		return errinfo.New(errinfo.KindUnsupportedSource, op, fmt.Sprintf("%s (%s) is not accepted by %s", src.FileName, ct, profile.Kind))
	}
	src.ContentType = ct
	if ct == workflow.TypePDF {
		pages, err := pdfPageCount(src.Data)
		if err != nil {
			return errinfo.Wrap(errinfo.KindUnsupportedSource, op, fmt.Errorf("unreadable pdf: %w", err))
		}
		if iv.limits.MaxPages > 0 && pages > iv.limits.MaxPages {
			return errinfo.New(errinfo.KindPayloadTooLarge, op, fmt.Sprintf("pdf has %d pages, limit is %d", pages, iv.limits.MaxPages))
		}
	}
	return nil
}

// DetectContentType trusts a declared type, then the file extension, then
// the bytes.
func DetectContentType(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return workflow.TypePDF
	case ".pptx":
		return workflow.TypePPTX
	}
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
	}
	sniffed := http.DetectContentType(data)
	if parsed, _, err := mime.ParseMediaType(sniffed); err == nil {
		return parsed
	}
	return sniffed
}

func pdfPageCount(data []byte) (n int, err error) {
	defer func() {
		// rsc.io/pdf panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	doc, err := rpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return doc.NumPage(), nil
}
