package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/logging"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

// minimalPDF builds a well-formed PDF with the given number of blank pages.
func minimalPDF(pages int) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages),
	}
	for i := 0; i < pages; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objs)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

type fakeBackend struct {
	calls    int
	outline  *OutlineReply
	render   *RenderReply
	finalize *FinalizeReply
	err      error
	lastCall any
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Missing(s Settings) []string {
	return missingSettings(s, "api_key", "model")
}

func (f *fakeBackend) Outline(_ context.Context, call OutlineCall) (*OutlineReply, error) {
	f.calls++
	f.lastCall = call
	return f.outline, f.err
}

func (f *fakeBackend) Render(_ context.Context, call RenderCall) (*RenderReply, error) {
	f.calls++
	f.lastCall = call
	return f.render, f.err
}

func (f *fakeBackend) Finalize(_ context.Context, call FinalizeCall) (*FinalizeReply, error) {
	f.calls++
	f.lastCall = call
	return f.finalize, f.err
}

var goodSettings = Settings{APIKey: "sk-test", Model: "gpt-5.1"}

func newInvoker(b Backend) *Invoker {
	return New(b, Limits{MaxSourceBytes: 1 << 20, MaxTextChars: 100, MaxPages: 5}, logging.Nop())
}

func units(n int) []slides.Unit {
	d := make([]slides.Draft, n)
	for i := range d {
		d[i] = slides.Draft{Title: fmt.Sprintf("slide %d", i), SourceAsset: fmt.Sprintf("assets/src_%d.png", i)}
	}
	return slides.NewDeck(d).Units()
}

func doneUnits(n int) []slides.Unit {
	us := units(n)
	for i := range us {
		us[i].Status = slides.StatusDone
		us[i].Artifact = fmt.Sprintf("/outputs/run/ppt_images/slide_%03d.png", i)
	}
	return us
}

func TestAdmissionRejectsWithoutNetwork(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		kind errinfo.Kind
	}{
		{
			name: "missing settings",
			req:  Request{Op: OpOutline, Kind: workflow.KindPaper2PPT, Source: &Source{Mode: workflow.ModeTopic, Text: "llms"}},
			kind: errinfo.KindMissingConfig,
		},
		{
			name: "render without token",
			req:  Request{Op: OpRenderAll, Kind: workflow.KindPaper2PPT, Settings: goodSettings, Units: units(2)},
			kind: errinfo.KindMissingConfig,
		},
		{
			name: "finalize without token",
			req:  Request{Op: OpFinalize, Kind: workflow.KindPaper2PPT, Settings: goodSettings, Units: units(2)},
			kind: errinfo.KindMissingConfig,
		},
		{
			name: "finalize with pending slide",
			req: Request{Op: OpFinalize, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
				Token: "run-1", Units: append(doneUnits(2), units(1)...), AllConfirmed: true},
			kind: errinfo.KindNotReady,
		},
		{
			name: "finalize unconfirmed",
			req: Request{Op: OpFinalize, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
				Token: "run-1", Units: doneUnits(2)},
			kind: errinfo.KindNotReady,
		},
		{
			name: "oversized file",
			req: Request{Op: OpOutline, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
				Source: &Source{Mode: workflow.ModeDocument, FileName: "big.pdf", Data: make([]byte, 2<<20)}},
			kind: errinfo.KindPayloadTooLarge,
		},
		{
			name: "long text",
			req: Request{Op: OpOutline, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
				Source: &Source{Mode: workflow.ModeText, Text: string(make([]rune, 101))}},
			kind: errinfo.KindPayloadTooLarge,
		},
		{
			name: "image into pdf2ppt",
			req: Request{Op: OpOutline, Kind: workflow.KindPDF2PPT, Settings: goodSettings,
				Source: &Source{Mode: workflow.ModeImage, FileName: "a.png", Data: []byte("\x89PNG\r\n\x1a\n")}},
			kind: errinfo.KindUnsupportedSource,
		},
		{
			name: "pptx into pdf2ppt",
			req: Request{Op: OpOutline, Kind: workflow.KindPDF2PPT, Settings: goodSettings,
				Source: &Source{Mode: workflow.ModeDocument, FileName: "deck.pptx", Data: []byte("PK\x03\x04")}},
			kind: errinfo.KindUnsupportedSource,
		},
		{
			name: "corrupt pdf",
			req: Request{Op: OpOutline, Kind: workflow.KindPDF2PPT, Settings: goodSettings,
				Source: &Source{Mode: workflow.ModeDocument, FileName: "paper.pdf", Data: []byte("%PDF-1.4 garbage")}},
			kind: errinfo.KindUnsupportedSource,
		},
		{
			name: "too many pages",
			req: Request{Op: OpOutline, Kind: workflow.KindPDF2PPT, Settings: goodSettings,
				Source: &Source{Mode: workflow.ModeDocument, FileName: "paper.pdf", Data: minimalPDF(6)}},
			kind: errinfo.KindPayloadTooLarge,
		},
		{
			name: "empty topic",
			req: Request{Op: OpOutline, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
				Source: &Source{Mode: workflow.ModeTopic, Text: "  "}},
			kind: errinfo.KindMissingConfig,
		},
		{
			name: "single render without instruction",
			req: Request{Op: OpRenderOne, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
				Token: "run-1", Units: units(2), Index: 1},
			kind: errinfo.KindMissingConfig,
		},
		{
			name: "single render out of range",
			req: Request{Op: OpRenderOne, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
				Token: "run-1", Units: units(2), Index: 2, Instruction: "bigger"},
			kind: errinfo.KindNotReady,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{}
			_, err := newInvoker(fb).Invoke(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errinfo.KindOf(err))
			assert.True(t, errinfo.KindOf(err).Admission())
			assert.Zero(t, fb.calls, "admission errors must not reach the backend")
		})
	}
}

func TestOutlineAcceptsValidPDF(t *testing.T) {
	fb := &fakeBackend{outline: &OutlineReply{
		Success: true,
		Token:   "outputs/run-1",
		Pages:   []slides.Draft{{Title: "a"}, {Title: "b"}, {Title: "c"}, {Title: "d"}},
	}}
	src := &Source{Mode: workflow.ModeDocument, FileName: "paper.pdf", Data: minimalPDF(3)}

	res, err := newInvoker(fb).Invoke(context.Background(), Request{
		Op: OpOutline, Kind: workflow.KindPDF2PPT, Settings: goodSettings, Source: src,
	})
	require.NoError(t, err)
	assert.Equal(t, "outputs/run-1", res.Token)
	assert.Len(t, res.Outline, 4)
	assert.Equal(t, workflow.TypePDF, fb.lastCall.(OutlineCall).Source.ContentType)
}

func TestOutlineEmptyIsMalformed(t *testing.T) {
	fb := &fakeBackend{outline: &OutlineReply{Success: true, Token: "run"}}
	_, err := newInvoker(fb).Invoke(context.Background(), Request{
		Op: OpOutline, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
		Source: &Source{Mode: workflow.ModeTopic, Text: "diffusion models"},
	})
	assert.ErrorIs(t, err, errinfo.ErrMalformed)
}

func TestBackendFailuresAreTyped(t *testing.T) {
	req := Request{Op: OpRenderAll, Kind: workflow.KindPaper2PPT, Settings: goodSettings, Token: "run", Units: units(2)}

	fb := &fakeBackend{err: errors.New("connection reset")}
	_, err := newInvoker(fb).Invoke(context.Background(), req)
	var e *errinfo.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errinfo.KindUnavailable, e.Kind)
	assert.Equal(t, "render_all", e.Op)

	fb = &fakeBackend{err: errinfo.Remote(errinfo.KindRateLimited, "", 429, "slow down")}
	_, err = newInvoker(fb).Invoke(context.Background(), req)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errinfo.KindRateLimited, e.Kind)
	assert.Equal(t, "render_all", e.Op)

	fb = &fakeBackend{render: &RenderReply{Success: false}}
	_, err = newInvoker(fb).Invoke(context.Background(), req)
	assert.ErrorIs(t, err, errinfo.ErrUnavailable)

	fb = &fakeBackend{err: context.Canceled}
	_, err = newInvoker(fb).Invoke(context.Background(), req)
	assert.ErrorIs(t, err, errinfo.ErrAbandoned)
}

func TestRenderOneSendsIndexAndInstruction(t *testing.T) {
	fb := &fakeBackend{render: &RenderReply{Success: true, Refs: []string{"/outputs/run/ppt_images/slide_001.png"}}}
	us := units(3)
	res, err := newInvoker(fb).Invoke(context.Background(), Request{
		Op: OpRenderOne, Kind: workflow.KindPaper2PPT, Settings: goodSettings,
		Token: "run", Units: us, Index: 1, Instruction: "make the title bigger",
	})
	require.NoError(t, err)

	call := fb.lastCall.(RenderCall)
	assert.Equal(t, 1, call.Index)
	assert.Equal(t, "make the title bigger", call.Instruction)
	require.Len(t, res.Units, 1)
	assert.Equal(t, us[1].ID, res.Units[0].UnitID)
	assert.True(t, res.Units[0].Matched)
}

func TestRenderAllUsesNegativeIndex(t *testing.T) {
	fb := &fakeBackend{render: &RenderReply{Success: true}}
	_, err := newInvoker(fb).Invoke(context.Background(), Request{
		Op: OpRenderAll, Kind: workflow.KindPaper2PPT, Settings: goodSettings, Token: "run", Units: units(2),
	})
	require.NoError(t, err)
	assert.Equal(t, -1, fb.lastCall.(RenderCall).Index)
}

func TestRateLimiterHonorsCancellation(t *testing.T) {
	fb := &fakeBackend{render: &RenderReply{Success: true}}
	iv := New(fb, Limits{}, logging.Nop(), WithRate(1, 1))
	req := Request{Op: OpRenderAll, Kind: workflow.KindPaper2PPT, Settings: goodSettings, Token: "run", Units: units(1)}

	_, err := iv.Invoke(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = iv.Invoke(ctx, req)
	assert.ErrorIs(t, err, errinfo.ErrAbandoned)
	assert.Equal(t, 1, fb.calls)
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, workflow.TypePDF, DetectContentType("x.pdf", "", nil))
	assert.Equal(t, workflow.TypePPTX, DetectContentType("x.PPTX", "application/octet-stream", nil))
	assert.Equal(t, "image/png", DetectContentType("upload", "", []byte("\x89PNG\r\n\x1a\n0000")))
	assert.Equal(t, "image/jpeg", DetectContentType("x.bin", "image/jpeg; q=1", nil))
}

func TestPDFPageCount(t *testing.T) {
	n, err := pdfPageCount(minimalPDF(4))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = pdfPageCount([]byte("not a pdf"))
	assert.Error(t, err)
}
