// Package slides holds the per-slide state of one generation run.
//
// A Deck is not safe for concurrent use; the pipeline controller owns it and
// serializes access.
package slides

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
)

// Draft is one outline entry before it becomes a slide.
type Draft struct {
	Title       string   `json:"title"`
	Layout      string   `json:"layout_description"`
	KeyPoints   []string `json:"key_points"`
	SourceAsset string   `json:"asset_ref,omitempty"`
}

type Unit struct {
	ID          string   `json:"id"`
	Order       int      `json:"order"`
	Title       string   `json:"title"`
	Layout      string   `json:"layout_description"`
	KeyPoints   []string `json:"key_points"`
	SourceAsset string   `json:"asset_ref,omitempty"`
	Artifact    string   `json:"artifact,omitempty"`
	Status      Status   `json:"status"`
	Instruction string   `json:"instruction,omitempty"`

	// Fallback is set when Artifact is the source asset because the render
	// returned nothing for this slide.
	Fallback bool `json:"fallback,omitempty"`
}

// Clone returns a copy that shares no memory with u.
func (u Unit) Clone() Unit {
	u.KeyPoints = append([]string(nil), u.KeyPoints...)
	return u
}

// Draft returns the editable content of u.
func (u Unit) Draft() Draft {
	return Draft{
		Title:       u.Title,
		Layout:      u.Layout,
		KeyPoints:   append([]string(nil), u.KeyPoints...),
		SourceAsset: u.SourceAsset,
	}
}

var ErrNotFound = errors.New("slide not found")

type Deck struct {
	units []Unit
}

// NewDeck creates one pending slide per draft, numbered from 1.
func NewDeck(drafts []Draft) *Deck {
	d := &Deck{units: make([]Unit, 0, len(drafts))}
	for _, dr := range drafts {
		d.units = append(d.units, newUnit(dr))
	}
	d.renumber()
	return d
}

func newUnit(dr Draft) Unit {
	return Unit{
		ID:          uuid.NewString(),
		Title:       dr.Title,
		Layout:      dr.Layout,
		KeyPoints:   append([]string(nil), dr.KeyPoints...),
		SourceAsset: dr.SourceAsset,
		Status:      StatusPending,
	}
}

func (d *Deck) renumber() {
	for i := range d.units {
		d.units[i].Order = i + 1
	}
}

func (d *Deck) Len() int { return len(d.units) }

// Units returns a deep copy of the slides in order.
func (d *Deck) Units() []Unit {
	out := make([]Unit, len(d.units))
	for i, u := range d.units {
		out[i] = u.Clone()
	}
	return out
}

func (d *Deck) At(i int) (Unit, bool) {
	if i < 0 || i >= len(d.units) {
		return Unit{}, false
	}
	return d.units[i].Clone(), true
}

func (d *Deck) Index(id string) int {
	for i, u := range d.units {
		if u.ID == id {
			return i
		}
	}
	return -1
}

// Replace swaps in a whole new version of the slide with the same ID. Order
// is owned by the deck and is not taken from u.
func (d *Deck) Replace(u Unit) error {
	i := d.Index(u.ID)
	if i < 0 {
		return fmt.Errorf("replace %s: %w", u.ID, ErrNotFound)
	}
	u = u.Clone()
	u.Order = d.units[i].Order
	d.units[i] = u
	return nil
}

// Swap exchanges the slides at positions i and j.
func (d *Deck) Swap(i, j int) error {
	if i < 0 || i >= len(d.units) || j < 0 || j >= len(d.units) {
		return fmt.Errorf("swap %d and %d: index out of range [0,%d)", i, j, len(d.units))
	}
	d.units[i], d.units[j] = d.units[j], d.units[i]
	d.renumber()
	return nil
}

// Insert adds a pending slide at position at (0..Len) and returns it.
func (d *Deck) Insert(at int, dr Draft) (Unit, error) {
	if at < 0 || at > len(d.units) {
		return Unit{}, fmt.Errorf("insert at %d: index out of range [0,%d]", at, len(d.units))
	}
	u := newUnit(dr)
	d.units = append(d.units, Unit{})
	copy(d.units[at+1:], d.units[at:])
	d.units[at] = u
	d.renumber()
	return d.units[at].Clone(), nil
}

func (d *Deck) Delete(id string) error {
	i := d.Index(id)
	if i < 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	d.units = append(d.units[:i], d.units[i+1:]...)
	d.renumber()
	return nil
}

// AllDone reports whether every slide has a finished render.
func (d *Deck) AllDone() bool {
	for _, u := range d.units {
		if u.Status != StatusDone {
			return false
		}
	}
	return true
}

// NotDone returns the 1-based orders of slides that are not done yet.
func (d *Deck) NotDone() []int {
	var out []int
	for _, u := range d.units {
		if u.Status != StatusDone {
			out = append(out, u.Order)
		}
	}
	return out
}
