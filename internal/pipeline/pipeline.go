// Package pipeline drives one generation run from intake to the final deck.
//
// A Controller owns the run state and the slide deck. Remote calls are made
// without holding the controller lock; a stage-level pending flag and a
// per-slide in-flight set keep overlapping calls out, and every response is
// checked against the run epoch before it is applied.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/identity"
	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/progress"
	"github.com/thywilljoshua/slidegen/internal/quota"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

type Stage int

const (
	StageIntake Stage = iota
	StageOutline
	StageRender
	StageFinalize
)

func (s Stage) String() string {
	switch s {
	case StageIntake:
		return "intake"
	case StageOutline:
		return "outline"
	case StageRender:
		return "render"
	case StageFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Invoker issues one remote generation call.
type Invoker interface {
	Invoke(ctx context.Context, req invoker.Request) (*invoker.Result, error)
}

// Gate meters billable calls.
type Gate interface {
	Check(ctx context.Context, id identity.Identity) (quota.Status, error)
	Record(ctx context.Context, id identity.Identity, kind string) error
}

// Final holds the finished deck locations.
type Final struct {
	Primary   string   `json:"primary"`
	Secondary string   `json:"secondary,omitempty"`
	Refs      []string `json:"refs,omitempty"`
}

type Options struct {
	Kind     workflow.Kind
	Invoker  Invoker
	Gate     Gate
	Identity identity.Provider
	Logger   *slog.Logger
	Clock    progress.Clock

	// ReviewOutline stops Submit at the outline so slides can be edited
	// before the first render.
	ReviewOutline bool
}

// Snapshot is a copy of the run state. Nothing in it aliases the controller.
type Snapshot struct {
	Kind     workflow.Kind
	Stage    Stage
	Cursor   int
	Token    string
	Units    []slides.Unit
	Final    *Final
	Busy     bool
	Progress progress.Progress
}

type Controller struct {
	kind    workflow.Kind
	profile workflow.Profile
	inv     Invoker
	gate    Gate
	ids     identity.Provider
	logger  *slog.Logger
	tracker *progress.Tracker
	review  bool

	mu       sync.Mutex
	stage    Stage
	cursor   int
	token    string
	settings invoker.Settings
	deck     *slides.Deck
	final    *Final
	epoch    uint64
	pending  bool
	inflight map[string]slides.Status
	seq      int
	cancels  map[int]context.CancelFunc
}

func New(opts Options) (*Controller, error) {
	profile, err := workflow.Lookup(opts.Kind)
	if err != nil {
		return nil, err
	}
	if opts.Invoker == nil || opts.Gate == nil || opts.Identity == nil {
		return nil, fmt.Errorf("pipeline: invoker, quota gate and identity provider are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		kind:     profile.Kind,
		profile:  profile,
		inv:      opts.Invoker,
		gate:     opts.Gate,
		ids:      opts.Identity,
		logger:   logger.With("kind", profile.Kind),
		tracker:  progress.NewTracker(opts.Clock),
		review:   opts.ReviewOutline,
		deck:     slides.NewDeck(nil),
		inflight: make(map[string]slides.Status),
		cancels:  make(map[int]context.CancelFunc),
	}, nil
}

// call is one outstanding remote request and the run it was issued against.
type call struct {
	epoch  uint64
	token  string
	seq    int
	ctx    context.Context
	cancel context.CancelFunc
}

// begin registers a call. c.mu must be held.
func (c *Controller) begin(ctx context.Context) *call {
	c.seq++
	cctx, cancel := context.WithCancel(ctx)
	cl := &call{epoch: c.epoch, token: c.token, seq: c.seq, ctx: cctx, cancel: cancel}
	c.cancels[cl.seq] = cancel
	return cl
}

// end unregisters a call. c.mu must be held.
func (c *Controller) end(cl *call) {
	delete(c.cancels, cl.seq)
	cl.cancel()
}

// current reports whether cl still belongs to the live run. c.mu must be held.
func (c *Controller) current(cl *call) bool {
	return cl.epoch == c.epoch && cl.token == c.token
}

func stale(op invoker.Operation) error {
	return errinfo.New(errinfo.KindAbandoned, string(op), "run was reset while the call was outstanding")
}

// admitQuota resolves the caller and refuses the call when today's quota is
// used up. A failing quota check lets the call through; quota.Gate already
// absorbs store outages, so this only matters for other Gate implementations.
func (c *Controller) admitQuota(ctx context.Context, op invoker.Operation) (identity.Identity, error) {
	id, err := c.ids.Identity(ctx)
	if err != nil {
		return identity.Identity{}, errinfo.Wrap(errinfo.KindMissingConfig, string(op), fmt.Errorf("resolve identity: %w", err))
	}
	st, err := c.gate.Check(ctx, id)
	if err != nil {
		c.logger.Warn("quota check failed, allowing call", "op", op, "identity", id.Key, "error", err)
		return id, nil
	}
	if st.Remaining <= 0 {
		return id, errinfo.New(errinfo.KindQuotaExhausted, string(op),
			fmt.Sprintf("%d of %d generations used on %s", st.Used, st.Limit, st.Day))
	}
	return id, nil
}

func (c *Controller) record(ctx context.Context, id identity.Identity, op invoker.Operation) {
	if err := c.gate.Record(context.WithoutCancel(ctx), id, string(c.kind)); err != nil {
		c.logger.Warn("failed to record quota usage", "op", op, "identity", id.Key, "error", err)
	}
}

func (c *Controller) invoke(cl *call, phases []progress.Phase, req invoker.Request) (*invoker.Result, error) {
	ticket := c.tracker.Start(phases)
	res, err := c.inv.Invoke(cl.ctx, req)
	c.tracker.Done(ticket, err == nil)
	return res, err
}

// Submit sends the source for outlining. Unless the controller reviews
// outlines, the first batch render follows immediately.
func (c *Controller) Submit(ctx context.Context, src invoker.Source, settings invoker.Settings) error {
	const op = invoker.OpOutline
	c.mu.Lock()
	if c.stage != StageIntake {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindInvalidStage, string(op), "submit is only possible at intake, stage is "+c.stage.String())
	}
	if c.pending {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindBusy, string(op), "outline already requested")
	}
	c.pending = true
	cl := c.begin(ctx)
	c.mu.Unlock()

	id, err := c.admitQuota(ctx, op)
	if err != nil {
		c.settle(cl, nil, true)
		return err
	}

	res, err := c.invoke(cl, c.profile.OutlineTime, invoker.Request{
		Op:       op,
		Kind:     c.kind,
		Source:   &src,
		Settings: settings,
	})
	if err == nil {
		c.record(ctx, id, op)
	}

	c.mu.Lock()
	c.end(cl)
	if !c.current(cl) {
		c.mu.Unlock()
		return stale(op)
	}
	c.pending = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.deck = slides.NewDeck(res.Outline)
	c.token = res.Token
	c.settings = settings
	c.stage = StageOutline
	c.cursor = 0
	c.final = nil
	c.logger.Info("outline ready", "token", res.Token, "slides", c.deck.Len())
	review := c.review
	c.mu.Unlock()

	if review {
		return nil
	}
	return c.BeginRender(ctx)
}

// settle unwinds a call that never reached the backend, restoring any
// slides it had marked. stageLevel clears the pending flag too.
func (c *Controller) settle(cl *call, prior map[string]slides.Status, stageLevel bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.end(cl)
	if !c.current(cl) {
		return
	}
	c.restore(prior)
	if stageLevel {
		c.pending = false
	}
}

// restore puts slides back to their status before a failed call and drops
// them from the in-flight set. c.mu must be held.
func (c *Controller) restore(prior map[string]slides.Status) {
	for id, st := range prior {
		delete(c.inflight, id)
		i := c.deck.Index(id)
		if i < 0 {
			continue
		}
		u, _ := c.deck.At(i)
		u.Status = st
		_ = c.deck.Replace(u)
	}
}

// BeginRender moves an outlined run into Render with one batch render.
func (c *Controller) BeginRender(ctx context.Context) error {
	return c.renderAll(ctx, StageOutline)
}

// RenderAll re-renders every slide while in Render.
func (c *Controller) RenderAll(ctx context.Context) error {
	return c.renderAll(ctx, StageRender)
}

func (c *Controller) renderAll(ctx context.Context, from Stage) error {
	const op = invoker.OpRenderAll
	c.mu.Lock()
	if c.stage != from {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindInvalidStage, string(op), "batch render is not possible at stage "+c.stage.String())
	}
	if c.pending || len(c.inflight) > 0 {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindBusy, string(op), "another generation is in progress")
	}
	if c.deck.Len() == 0 {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindNotReady, string(op), "the outline has no slides")
	}
	c.pending = true
	prior := make(map[string]slides.Status, c.deck.Len())
	for _, u := range c.deck.Units() {
		prior[u.ID] = u.Status
		c.inflight[u.ID] = u.Status
		u.Status = slides.StatusProcessing
		_ = c.deck.Replace(u)
	}
	units := c.deck.Units()
	settings := c.settings
	cl := c.begin(ctx)
	c.mu.Unlock()

	id, err := c.admitQuota(ctx, op)
	if err != nil {
		c.settle(cl, prior, true)
		return err
	}

	res, err := c.invoke(cl, c.profile.RenderTime, invoker.Request{
		Op:       op,
		Kind:     c.kind,
		Token:    cl.token,
		Settings: settings,
		Units:    units,
	})
	if err == nil {
		c.record(ctx, id, op)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.end(cl)
	if !c.current(cl) {
		return stale(op)
	}
	c.pending = false
	if err != nil {
		c.restore(prior)
		return err
	}
	fallbacks := 0
	for _, ua := range res.Units {
		delete(prior, ua.UnitID)
		delete(c.inflight, ua.UnitID)
		i := c.deck.Index(ua.UnitID)
		if i < 0 {
			continue
		}
		u, _ := c.deck.At(i)
		u.Artifact = ua.Ref
		u.Status = slides.StatusDone
		u.Fallback = !ua.Matched
		if u.Fallback {
			fallbacks++
		}
		_ = c.deck.Replace(u)
	}
	// Anything the resolver did not report keeps its old status.
	c.restore(prior)
	if from == StageOutline {
		c.stage = StageRender
		c.cursor = 0
	}
	c.logger.Info("slides rendered", "token", cl.token, "slides", len(res.Units), "fallbacks", fallbacks)
	return nil
}

// Rerender regenerates the slide at the cursor with an instruction.
func (c *Controller) Rerender(ctx context.Context, instruction string) error {
	const op = invoker.OpRenderOne
	instruction = strings.TrimSpace(instruction)
	c.mu.Lock()
	if c.stage != StageRender {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindInvalidStage, string(op), "slides can only be re-rendered at the render stage")
	}
	if instruction == "" {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindMissingConfig, string(op), "instruction is required to re-render a slide")
	}
	index := c.cursor
	u, ok := c.deck.At(index)
	if !ok {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindNotReady, string(op), "no slide at the cursor")
	}
	if _, busy := c.inflight[u.ID]; busy {
		c.mu.Unlock()
		return errinfo.New(errinfo.KindBusy, string(op), fmt.Sprintf("slide %d is already being generated", u.Order))
	}
	prior := map[string]slides.Status{u.ID: u.Status}
	c.inflight[u.ID] = u.Status
	previous := u.Clone()
	u.Status = slides.StatusProcessing
	_ = c.deck.Replace(u)
	units := c.deck.Units()
	settings := c.settings
	cl := c.begin(ctx)
	c.mu.Unlock()

	id, err := c.admitQuota(ctx, op)
	if err != nil {
		c.settle(cl, prior, false)
		return err
	}

	res, err := c.invoke(cl, c.profile.SingleTime, invoker.Request{
		Op:          op,
		Kind:        c.kind,
		Token:       cl.token,
		Settings:    settings,
		Units:       units,
		Index:       index,
		Instruction: instruction,
	})
	if err == nil {
		c.record(ctx, id, op)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.end(cl)
	if !c.current(cl) {
		return stale(op)
	}
	i := c.deck.Index(previous.ID)
	if i < 0 {
		delete(c.inflight, previous.ID)
		return stale(op)
	}
	if err != nil {
		c.restore(prior)
		return err
	}
	delete(c.inflight, previous.ID)
	cur, _ := c.deck.At(i)
	cur.Status = slides.StatusDone
	cur.Instruction = instruction
	if len(res.Units) == 1 && (res.Units[0].Matched || previous.Artifact == "") {
		cur.Artifact = res.Units[0].Ref
		cur.Fallback = !res.Units[0].Matched
	} else {
		c.logger.Warn("re-render returned no image for the slide, keeping the previous one",
			"token", cl.token, "slide", cur.Order)
	}
	_ = c.deck.Replace(cur)
	return nil
}

// Confirm accepts the slide at the cursor and moves on. Confirming the last
// slide moves the run to Finalize.
func (c *Controller) Confirm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != StageRender {
		return errinfo.New(errinfo.KindInvalidStage, "confirm", "nothing to confirm at stage "+c.stage.String())
	}
	u, ok := c.deck.At(c.cursor)
	if !ok {
		return errinfo.New(errinfo.KindNotReady, "confirm", "no slide at the cursor")
	}
	if u.Status != slides.StatusDone {
		return errinfo.New(errinfo.KindNotReady, "confirm", fmt.Sprintf("slide %d is %s", u.Order, u.Status))
	}
	if c.cursor == c.deck.Len()-1 {
		c.stage = StageFinalize
		return nil
	}
	c.cursor++
	return nil
}

// Previous steps the cursor back one slide. From an unfinished Finalize it
// returns to the last slide.
func (c *Controller) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.stage == StageRender:
		if c.cursor > 0 {
			c.cursor--
		}
		return nil
	case c.stage == StageFinalize && c.final == nil && !c.pending:
		c.stage = StageRender
		c.cursor = c.deck.Len() - 1
		return nil
	default:
		return errinfo.New(errinfo.KindInvalidStage, "previous", "no slide navigation at stage "+c.stage.String())
	}
}

// Finalize assembles every rendered slide into the final deck.
func (c *Controller) Finalize(ctx context.Context) (*Final, error) {
	const op = invoker.OpFinalize
	c.mu.Lock()
	if c.stage != StageRender && c.stage != StageFinalize {
		c.mu.Unlock()
		return nil, errinfo.New(errinfo.KindInvalidStage, string(op), "cannot finalize at stage "+c.stage.String())
	}
	if c.final != nil {
		c.mu.Unlock()
		return nil, errinfo.New(errinfo.KindInvalidStage, string(op), "run is already finalized")
	}
	if c.pending || len(c.inflight) > 0 {
		c.mu.Unlock()
		return nil, errinfo.New(errinfo.KindBusy, string(op), "another generation is in progress")
	}
	if left := c.deck.NotDone(); len(left) > 0 {
		c.mu.Unlock()
		return nil, errinfo.New(errinfo.KindNotReady, string(op), fmt.Sprintf("slides %v are not rendered", left))
	}
	c.pending = true
	units := c.deck.Units()
	settings := c.settings
	cl := c.begin(ctx)
	c.mu.Unlock()

	id, err := c.admitQuota(ctx, op)
	if err != nil {
		c.settle(cl, nil, true)
		return nil, err
	}

	res, err := c.invoke(cl, c.profile.FinalTime, invoker.Request{
		Op:           op,
		Kind:         c.kind,
		Token:        cl.token,
		Settings:     settings,
		Units:        units,
		AllConfirmed: true,
	})
	if err == nil {
		c.record(ctx, id, op)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.end(cl)
	if !c.current(cl) {
		return nil, stale(op)
	}
	c.pending = false
	if err != nil {
		return nil, err
	}
	c.final = &Final{Primary: res.Primary, Secondary: res.Secondary, Refs: append([]string(nil), res.Refs...)}
	c.stage = StageFinalize
	c.logger.Info("deck finalized", "token", cl.token, "primary", res.Primary, "secondary", res.Secondary)
	f := *c.final
	return &f, nil
}

// Back snaps the run back to Intake, discarding everything, or to Outline,
// keeping the slides and run token. Outstanding calls are abandoned.
func (c *Controller) Back(to Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch to {
	case StageIntake:
		c.abandon()
		c.deck = slides.NewDeck(nil)
		c.token = ""
		c.settings = invoker.Settings{}
	case StageOutline:
		if c.stage == StageIntake || c.token == "" {
			return errinfo.New(errinfo.KindInvalidStage, "back", "there is no outline to go back to")
		}
		c.abandon()
	default:
		return errinfo.New(errinfo.KindInvalidStage, "back", "can only go back to intake or outline")
	}
	c.stage = to
	c.cursor = 0
	c.final = nil
	c.logger.Info("run moved back", "stage", to)
	return nil
}

// Reset discards the run and starts over at Intake.
func (c *Controller) Reset() {
	_ = c.Back(StageIntake)
}

// abandon invalidates every outstanding call. c.mu must be held.
func (c *Controller) abandon() {
	c.epoch++
	for seq, cancel := range c.cancels {
		cancel()
		delete(c.cancels, seq)
	}
	prior := c.inflight
	c.inflight = make(map[string]slides.Status)
	c.restore(prior)
	c.pending = false
	c.tracker.Cancel()
}

// UpdateUnit replaces the editable content of one slide. Allowed while
// outlining or rendering, but not while that slide is being generated.
func (c *Controller) UpdateUnit(id string, content slides.Draft) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != StageOutline && c.stage != StageRender {
		return errinfo.New(errinfo.KindInvalidStage, "update_unit", "slides cannot be edited at stage "+c.stage.String())
	}
	if _, busy := c.inflight[id]; busy {
		return errinfo.New(errinfo.KindBusy, "update_unit", "slide is being generated")
	}
	i := c.deck.Index(id)
	if i < 0 {
		return fmt.Errorf("update %s: %w", id, slides.ErrNotFound)
	}
	u, _ := c.deck.At(i)
	u.Title = content.Title
	u.Layout = content.Layout
	u.KeyPoints = append([]string(nil), content.KeyPoints...)
	u.SourceAsset = content.SourceAsset
	return c.deck.Replace(u)
}

// structural guards reorder, insert and delete. c.mu must be held.
func (c *Controller) structural(op string) error {
	if c.stage != StageOutline {
		return errinfo.New(errinfo.KindInvalidStage, op, "slides can only be rearranged while reviewing the outline")
	}
	if c.pending || len(c.inflight) > 0 {
		return errinfo.New(errinfo.KindBusy, op, "a render is in progress")
	}
	return nil
}

// MoveUnit swaps the slides at positions i and j.
func (c *Controller) MoveUnit(i, j int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.structural("move_unit"); err != nil {
		return err
	}
	return c.deck.Swap(i, j)
}

// InsertUnit adds a pending slide at position at.
func (c *Controller) InsertUnit(at int, content slides.Draft) (slides.Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.structural("insert_unit"); err != nil {
		return slides.Unit{}, err
	}
	return c.deck.Insert(at, content)
}

func (c *Controller) DeleteUnit(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.structural("delete_unit"); err != nil {
		return err
	}
	return c.deck.Delete(id)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Kind:     c.kind,
		Stage:    c.stage,
		Cursor:   c.cursor,
		Token:    c.token,
		Units:    c.deck.Units(),
		Busy:     c.pending || len(c.inflight) > 0,
		Progress: c.tracker.Snapshot(),
	}
	if c.final != nil {
		f := *c.final
		f.Refs = append([]string(nil), c.final.Refs...)
		s.Final = &f
	}
	return s
}

// Progress reports the synthetic progress of the latest call.
func (c *Controller) Progress() progress.Progress {
	return c.tracker.Snapshot()
}
