package invoker

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

// Resolver turns the backends' loosely shaped replies into a Result. It has
// one rule per operation and no network code.
type Resolver struct{}

var indexedName = regexp.MustCompile(`_(\d{3})\.([A-Za-z0-9]+)$`)

var imageExts = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"webp": true,
	"svg":  true,
}

// baseName strips query, fragment and directories from a URL or path.
func baseName(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	return path.Base(strings.ReplaceAll(ref, "\\", "/"))
}

// slideIndex returns the zero-based index encoded in an image ref, or -1.
func slideIndex(ref string) int {
	m := indexedName.FindStringSubmatch(baseName(ref))
	if m == nil || !imageExts[strings.ToLower(m[2])] {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// match finds the ref for slide index i. Names starting with "slide" win over
// other files carrying the same index, such as cleaned backgrounds.
func match(refs []string, i int) (string, bool) {
	var found string
	for _, ref := range refs {
		if slideIndex(ref) != i {
			continue
		}
		if strings.HasPrefix(strings.ToLower(baseName(ref)), "slide") {
			return ref, true
		}
		if found == "" {
			found = ref
		}
	}
	return found, found != ""
}

func (Resolver) Outline(reply *OutlineReply) (*Result, error) {
	if len(reply.Pages) == 0 {
		return nil, errinfo.New(errinfo.KindMalformed, string(OpOutline), "outline is empty")
	}
	if strings.TrimSpace(reply.Token) == "" {
		return nil, errinfo.New(errinfo.KindMalformed, string(OpOutline), "outline carries no run token")
	}
	pages := make([]slides.Draft, len(reply.Pages))
	copy(pages, reply.Pages)
	return &Result{Token: reply.Token, Outline: pages, Refs: reply.Refs}, nil
}

// Batch assigns a ref to every slide. Slides with no matching ref fall back
// to their source asset so a partial render still shows something.
func (Resolver) Batch(refs []string, units []slides.Unit) *Result {
	res := &Result{Refs: refs, Units: make([]UnitArtifact, len(units))}
	for i, u := range units {
		ua := UnitArtifact{Index: i, UnitID: u.ID}
		if ref, ok := match(refs, i); ok {
			ua.Ref, ua.Matched = ref, true
		} else {
			ua.Ref = u.SourceAsset
		}
		res.Units[i] = ua
	}
	return res
}

// Single resolves the re-render of slide i. When no name matches but the
// backend returned exactly one image, that image is the answer.
func (Resolver) Single(refs []string, units []slides.Unit, i int) *Result {
	u := units[i]
	ua := UnitArtifact{Index: i, UnitID: u.ID}
	if ref, ok := match(refs, i); ok {
		ua.Ref, ua.Matched = ref, true
	} else if imgs := images(refs); len(imgs) == 1 {
		ua.Ref, ua.Matched = imgs[0], true
	} else {
		ua.Ref = u.SourceAsset
	}
	return &Result{Refs: refs, Units: []UnitArtifact{ua}}
}

func images(refs []string) []string {
	var out []string
	for _, ref := range refs {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(baseName(ref))), ".")
		if imageExts[ext] {
			out = append(out, ref)
		}
	}
	return out
}

// Final uses the named fields when present, else searches refs by the
// workflow's primary and secondary extensions.
func (Resolver) Final(profile workflow.Profile, reply *FinalizeReply) (*Result, error) {
	res := &Result{
		Primary:   reply.Primary,
		Secondary: reply.Secondary,
		Refs:      reply.Refs,
	}
	if res.Primary == "" {
		res.Primary = byExt(reply.Refs, profile.Primary)
	}
	if res.Secondary == "" {
		res.Secondary = byExt(reply.Refs, profile.Secondary)
	}
	if res.Primary == "" && res.Secondary == "" {
		return nil, errinfo.New(errinfo.KindMalformed, string(OpFinalize), "no final artifact in response")
	}
	return res, nil
}

func byExt(refs []string, exts []string) string {
	for _, ext := range exts {
		for _, ref := range refs {
			if strings.EqualFold(path.Ext(baseName(ref)), ext) {
				return ref
			}
		}
	}
	return ""
}
