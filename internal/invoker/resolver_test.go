package invoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

func TestSlideIndex(t *testing.T) {
	tests := []struct {
		ref  string
		want int
	}{
		{"http://host/outputs/run/ppt_images/slide_000.png", 0},
		{"/outputs/run/ppt_images/slide_012.PNG?v=3", 12},
		{"file:///tmp/run/slide_007.webp", 7},
		{`C:\runs\slide_004.jpg`, 4},
		{"slide_1.png", -1},
		{"slide_0001.png", -1},
		{"deck_001.pdf", -1},
		{"paper.pptx", -1},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, slideIndex(tt.ref))
		})
	}
}

func TestBatchPartialRenderFallsBack(t *testing.T) {
	us := units(3)
	refs := []string{
		"http://h/outputs/run/ppt_images/slide_000.png",
		"http://h/outputs/run/ppt_images/slide_002.png",
		"http://h/outputs/run/input/paper.pdf",
	}

	res := Resolver{}.Batch(refs, us)
	require.Len(t, res.Units, 3)

	assert.Equal(t, refs[0], res.Units[0].Ref)
	assert.True(t, res.Units[0].Matched)

	assert.Equal(t, us[1].SourceAsset, res.Units[1].Ref)
	assert.False(t, res.Units[1].Matched)
	assert.Equal(t, us[1].ID, res.Units[1].UnitID)

	assert.Equal(t, refs[1], res.Units[2].Ref)
	assert.True(t, res.Units[2].Matched)
}

func TestBatchPrefersSlideNamedRef(t *testing.T) {
	us := units(2)
	refs := []string{
		"/outputs/run/bg/clean_bg_001.png",
		"/outputs/run/ppt_images/slide_001.png",
	}
	res := Resolver{}.Batch(refs, us)
	assert.Equal(t, refs[1], res.Units[1].Ref)
}

func TestSingleResolution(t *testing.T) {
	us := units(3)

	res := Resolver{}.Single([]string{"/o/slide_000.png", "/o/slide_002.png"}, us, 2)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "/o/slide_002.png", res.Units[0].Ref)

	res = Resolver{}.Single([]string{"/o/edited.png", "/o/paper.pdf"}, us, 1)
	assert.Equal(t, "/o/edited.png", res.Units[0].Ref)
	assert.True(t, res.Units[0].Matched)

	res = Resolver{}.Single([]string{"/o/a.png", "/o/b.png"}, us, 1)
	assert.Equal(t, us[1].SourceAsset, res.Units[0].Ref)
	assert.False(t, res.Units[0].Matched)
}

func TestFinalResolution(t *testing.T) {
	profile, err := workflow.Lookup(workflow.KindPaper2PPT)
	require.NoError(t, err)

	res, err := Resolver{}.Final(profile, &FinalizeReply{Primary: "/o/deck.pptx", Secondary: "/o/deck.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "/o/deck.pptx", res.Primary)
	assert.Equal(t, "/o/deck.pdf", res.Secondary)

	res, err = Resolver{}.Final(profile, &FinalizeReply{Refs: []string{"/o/slide_000.png", "/o/paper2ppt.PDF", "/o/paper2ppt.pptx"}})
	require.NoError(t, err)
	assert.Equal(t, "/o/paper2ppt.pptx", res.Primary)
	assert.Equal(t, "/o/paper2ppt.PDF", res.Secondary)

	_, err = Resolver{}.Final(profile, &FinalizeReply{Refs: []string{"/o/slide_000.png"}})
	assert.ErrorIs(t, err, errinfo.ErrMalformed)
}

func TestOutlineNeedsToken(t *testing.T) {
	_, err := Resolver{}.Outline(&OutlineReply{Success: true, Pages: []slides.Draft{{Title: "Intro"}}})
	assert.ErrorIs(t, err, errinfo.ErrMalformed)

	res, err := Resolver{}.Outline(&OutlineReply{Success: true, Token: "run-1", Pages: []slides.Draft{{Title: "Intro"}}})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.Token)
	assert.Len(t, res.Outline, 1)
}
