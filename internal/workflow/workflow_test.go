package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	p, err := Lookup("PAPER2PPT")
	require.NoError(t, err)
	assert.Equal(t, KindPaper2PPT, p.Kind)

	_, err = Lookup("paper2video")
	assert.ErrorContains(t, err, "paper2ppt")

	for _, oneShot := range []Kind{"paper2figure", "image2ppt"} {
		_, err = Lookup(oneShot)
		assert.Error(t, err, oneShot)
	}
	assert.Equal(t, []string{"paper2ppt", "pdf2ppt", "polish"}, Names())
}

func TestAccepts(t *testing.T) {
	paper, _ := Lookup(KindPaper2PPT)
	pdf, _ := Lookup(KindPDF2PPT)
	polish, _ := Lookup(KindPolish)

	assert.True(t, paper.Accepts(ModeDocument, "application/pdf"))
	assert.True(t, paper.Accepts(ModeDocument, TypePPTX))
	assert.True(t, paper.Accepts(ModeTopic, ""))
	assert.False(t, paper.Accepts(ModeImage, TypePNG))

	assert.True(t, pdf.Accepts(ModeDocument, "application/pdf; charset=binary"))
	assert.False(t, pdf.Accepts(ModeDocument, TypePPTX))
	assert.False(t, pdf.Accepts(ModeText, ""))

	assert.True(t, polish.Accepts(ModeImage, "image/jpeg"))
	assert.False(t, polish.Accepts(ModeImage, "image/gif"))
}

func TestInputType(t *testing.T) {
	assert.Equal(t, "pdf", InputType(ModeDocument, TypePDF))
	assert.Equal(t, "pptx", InputType(ModeDocument, TypePPTX))
	assert.Equal(t, "text", InputType(ModeText, ""))
	assert.Equal(t, "topic", InputType(ModeTopic, ""))
	assert.Equal(t, "image", InputType(ModeImage, TypePNG))
}

func TestNamesSorted(t *testing.T) {
	assert.Equal(t, []string{"paper2ppt", "pdf2ppt", "polish"}, Names())
}
