// Package status holds the pickup-lifecycle rules: progress order, transition direction and the
// metadata each transition must carry.
package status

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/pickup-roster-api/internal/models"
	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
)

// Direction classifies a move between two statuses.
type Direction int

const (
	Lateral Direction = iota
	Forward
	Backward
	// Restart is any move out of skipped. It ranks below skipped but is a fresh start, not an undo.
	Restart
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case Restart:
		return "restart"
	default:
		return "lateral"
	}
}

var rank = map[models.Status]int{
	models.StatusNotPicked: 0,
	models.StatusPicked:    1,
	models.StatusArrived:   2,
	models.StatusChecked:   3,
	models.StatusSkipped:   4,
}

// Order returns the progress rank of s, or -1 when s is unknown.
func Order(s models.Status) int {
	if r, ok := rank[s.OrDefault()]; ok {
		return r
	}
	return -1
}

// Classify reports the direction of moving from current to requested.
func Classify(current, requested models.Status) Direction {
	current = current.OrDefault()
	requested = requested.OrDefault()
	if current == models.StatusSkipped && requested != models.StatusSkipped {
		return Restart
	}
	from, to := Order(current), Order(requested)
	switch {
	case to > from:
		return Forward
	case to < from:
		return Backward
	default:
		return Lateral
	}
}

// Transition is a requested status change for one student.
type Transition struct {
	From         models.Status
	To           models.Status
	Meta         models.LogMeta
	SkipEligible bool
}

// Check validates t and returns the metadata to persist. It has no side effects, so a rejected
// transition can be retried with corrected input.
func Check(t Transition) (models.LogMeta, error) {
	from := t.From.OrDefault()
	meta := t.Meta

	if !t.To.Valid() {
		return meta, appErrors.Clone(appErrors.ErrValidation, "unknown status "+string(t.To))
	}

	switch {
	case t.To == models.StatusSkipped && from != models.StatusSkipped:
		if from != models.StatusNotPicked {
			return meta, appErrors.Clone(appErrors.ErrInvalidTransition, "only a student not yet picked can be skipped")
		}
		if !t.SkipEligible {
			return meta, appErrors.ErrSkipNotEligible
		}
	case from == models.StatusSkipped && t.To != models.StatusSkipped && t.To != models.StatusNotPicked:
		return meta, appErrors.Clone(appErrors.ErrInvalidTransition, "a skipped student can only be restored to not_picked")
	}

	if t.To == models.StatusChecked {
		person := NormalizeName(meta.PickupPerson)
		if person == "" {
			person = NormalizeName(meta.Override)
		}
		if person == "" {
			return meta, appErrors.ErrPickupPersonRequired
		}
		meta.PickupPerson = person
	}

	return meta, nil
}

// Enrich records the status and time being left so an undo can later be reconstructed.
func Enrich(meta models.LogMeta, prev models.Status, prevTime *time.Time) models.LogMeta {
	meta.PrevStatus = prev.OrDefault()
	if prevTime != nil && !prevTime.IsZero() {
		at := prevTime.UTC()
		meta.PrevTime = &at
	} else {
		meta.PrevTime = nil
	}
	return meta
}

// NormalizeName trims, collapses inner whitespace and applies NFC so visually identical names compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.Join(strings.Fields(name), " "))
}
