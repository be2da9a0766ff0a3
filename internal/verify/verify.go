// Package verify decides whether a capture burst shows an authorized person,
// an intruder, or nothing conclusive.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/motionguard/internal/capture"
	"github.com/roach88/motionguard/internal/matcher"
)

// Kind is the classification of an attempt.
type Kind int

const (
	Inconclusive Kind = iota
	Authorized
	Intruder
)

func (k Kind) String() string {
	switch k {
	case Authorized:
		return "authorized"
	case Intruder:
		return "intruder"
	default:
		return "inconclusive"
	}
}

// Reasons attached to Inconclusive outcomes.
const (
	ReasonNoImages     = "no images captured"
	ReasonNoEmbedding  = "no usable embedding"
	ReasonNoConfidence = "no confident match"
	ReasonCancelled    = "classification cancelled"
)

// Outcome is the result of classifying a session. Identity, Score and Frame
// are set for Authorized and Intruder; Reason is set for Inconclusive.
type Outcome struct {
	Kind     Kind
	Identity string
	Score    float64
	Frame    capture.Frame
	Reason   string
}

// Decisive reports whether the outcome ends a run.
func (o Outcome) Decisive() bool {
	return o.Kind != Inconclusive
}

func (o Outcome) String() string {
	if o.Kind == Inconclusive {
		return fmt.Sprintf("%s (%s)", o.Kind, o.Reason)
	}
	return fmt.Sprintf("%s %s (%.2f) %s", o.Kind, o.Identity, o.Score, o.Frame.Path)
}

// DefaultThreshold is the cosine distance below which a match is confident.
const DefaultThreshold = 0.4

// DefaultAuthorizedLabel marks authorized identities by name.
const DefaultAuthorizedLabel = "Authorized"

// Policy holds the classification rules.
type Policy struct {
	// Threshold is exclusive: a distance equal to it is not confident.
	Threshold float64
	// AuthorizedLabel authorizes any identity whose name contains it,
	// ignoring case.
	AuthorizedLabel string
	// AuthorizedIdentities are authorized by exact name.
	AuthorizedIdentities []string
}

// DefaultPolicy returns the stock threshold and label.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, AuthorizedLabel: DefaultAuthorizedLabel}
}

// IsAuthorized reports whether identity counts as authorized.
func (p Policy) IsAuthorized(identity string) bool {
	for _, name := range p.AuthorizedIdentities {
		if name == identity {
			return true
		}
	}
	if p.AuthorizedLabel == "" {
		return false
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(identity), fold.String(p.AuthorizedLabel))
}

// Classify walks the session in frame order and decides on the first frame
// whose nearest identity is within the threshold. Frames that cannot be
// embedded are skipped. Later frames are not examined once one decides.
func (p Policy) Classify(ctx context.Context, s capture.Session, m matcher.Matcher) Outcome {
	if s.Empty() {
		return Outcome{Kind: Inconclusive, Reason: ReasonNoImages}
	}

	usable := 0
	for _, f := range s.Frames {
		if ctx.Err() != nil {
			break
		}
		match, err := m.Match(ctx, f.Path)
		if err != nil {
			slog.Warn("frame skipped", "frame", f.Index, "error", err)
			continue
		}
		usable++

		if match.Distance >= p.Threshold {
			slog.Debug("match below confidence",
				"frame", f.Index,
				"identity", match.Identity,
				"distance", match.Distance,
			)
			continue
		}

		kind := Intruder
		if p.IsAuthorized(match.Identity) {
			kind = Authorized
		}
		return Outcome{
			Kind:     kind,
			Identity: match.Identity,
			Score:    match.Distance,
			Frame:    f,
		}
	}

	if ctx.Err() != nil {
		return Outcome{Kind: Inconclusive, Reason: ReasonCancelled}
	}
	if usable == 0 {
		return Outcome{Kind: Inconclusive, Reason: ReasonNoEmbedding}
	}
	return Outcome{Kind: Inconclusive, Reason: ReasonNoConfidence}
}
