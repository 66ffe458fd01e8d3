package pipeline

import (
	"fmt"
	"log"
	"strings"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/helpers"
)

// Gate is the final check between a parsed draft and the disk. Any violation
// rejects the draft outright; there is no retry through the gate.
type Gate struct {
	denylist []string
	log      *log.Logger
}

func NewGate(cfg config.GuardrailsConfig) *Gate {
	return &Gate{
		denylist: cfg.Denylist,
		log:      log.New(log.Writer(), "[GATE] ", log.LstdFlags),
	}
}

// ValidationResult lists everything wrong with a draft.
type ValidationResult struct {
	Pass       bool     `json:"pass"`
	Violations []string `json:"violations,omitempty"`
}

// Validate checks the draft for denylisted terms, the required structure,
// and that every cited URL is valid and drawn from the research briefs.
func (g *Gate) Validate(draft *Draft, briefs []Brief) ValidationResult {
	if draft == nil {
		return ValidationResult{Violations: []string{"no draft"}}
	}

	var violations []string

	lower := strings.ToLower(draft.RawMarkdown)
	for _, term := range g.denylist {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if strings.Contains(lower, t) {
			violations = append(violations, fmt.Sprintf("banned term %q present", term))
		}
	}

	if strings.TrimSpace(draft.Title) == "" {
		violations = append(violations, "empty title")
	}
	if len(draft.Sections) == 0 {
		violations = append(violations, "no sections")
	}
	for _, s := range draft.Sections {
		if strings.TrimSpace(s.Heading) == "" || strings.TrimSpace(s.Body) == "" {
			violations = append(violations, fmt.Sprintf("section %q is empty", s.Heading))
		}
	}

	allowed := make(map[string]bool)
	for _, b := range briefs {
		for _, c := range b.Citations {
			allowed[canonicalOrRaw(c)] = true
		}
	}
	for _, c := range draftCitations(draft) {
		if !helpers.ValidHTTPURL(c) {
			violations = append(violations, fmt.Sprintf("citation %q is not a valid URL", c))
			continue
		}
		if !allowed[canonicalOrRaw(c)] {
			violations = append(violations, fmt.Sprintf("citation %q not drawn from research", c))
		}
	}

	if len(violations) > 0 {
		g.log.Printf("draft rejected: %s", strings.Join(violations, "; "))
		return ValidationResult{Pass: false, Violations: violations}
	}
	return ValidationResult{Pass: true}
}

// draftCitations extracts the URLs listed under every "Sources:" block. A
// blank line keeps the block open; any other non-list line closes it.
func draftCitations(draft *Draft) []string {
	var cites []string
	for _, s := range draft.Sections {
		inSources := false
		for _, line := range strings.Split(s.Body, "\n") {
			t := strings.TrimSpace(line)
			switch {
			case strings.EqualFold(t, "Sources:"):
				inSources = true
			case !inSources:
			case strings.HasPrefix(t, "- "):
				cites = append(cites, strings.TrimSpace(strings.TrimPrefix(t, "- ")))
			case t == "":
			default:
				inSources = false
			}
		}
	}
	return cites
}
