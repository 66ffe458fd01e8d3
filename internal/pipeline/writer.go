package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/helpers"
	"github.com/ainexus/herald/internal/llm"
)

// Writer composes the final newsletter markdown from the collected briefs.
type Writer struct {
	provider llm.Provider
	cfg      config.PipelineConfig
	prompts  config.PromptsConfig
	model    string
	log      *log.Logger
}

func NewWriter(provider llm.Provider, cfg config.PipelineConfig, prompts config.PromptsConfig, model string) *Writer {
	return &Writer{
		provider: provider,
		cfg:      cfg,
		prompts:  prompts,
		model:    model,
		log:      log.New(log.Writer(), "[WRITER] ", log.LstdFlags),
	}
}

type writerBriefView struct {
	Topic     researcherTopicView
	Facts     []string
	Citations []string
}

type writerView struct {
	Briefs []writerBriefView
}

type writerRetryView struct {
	SectionCount int
	Previous     string
}

// Write produces the newsletter draft in a single call. Output that cannot
// be parsed back into title and sections gets one corrective reformat
// attempt before the draft counts as malformed.
func (w *Writer) Write(ctx context.Context, briefs []Brief) (*Draft, Usage, error) {
	usage := Usage{Model: w.model}
	if len(briefs) == 0 {
		return nil, usage, errors.New("no briefs to write from")
	}

	view := writerView{Briefs: make([]writerBriefView, len(briefs))}
	for i, b := range briefs {
		view.Briefs[i] = writerBriefView{
			Topic:     researcherTopicView{Name: b.Topic.Name, Rationale: b.Topic.Rationale},
			Facts:     b.Facts,
			Citations: b.Citations,
		}
	}
	prompt, err := renderPrompt("writer", w.prompts.Writer, view)
	if err != nil {
		return nil, usage, err
	}

	raw, in, out, callErr := completeWithTimeout(ctx, w.provider, prompt, w.model, w.cfg.CallTimeout)
	usage.Attempts++
	usage.TokensIn += in
	usage.TokensOut += out
	usage.Cost += w.provider.CalculateCost(in, out, w.model)

	var parseErr error
	if callErr == nil {
		draft, perr := w.parse(raw, len(briefs))
		if perr == nil {
			return draft, usage, nil
		}
		parseErr = perr
	} else if ctx.Err() != nil {
		return nil, usage, ctx.Err()
	}

	retryPrompt := prompt
	if parseErr != nil {
		w.log.Printf("draft failed to parse, requesting reformat: %v", parseErr)
		rp, rerr := renderPrompt("writer_retry", w.prompts.WriterRetry, writerRetryView{
			SectionCount: len(briefs),
			Previous:     raw,
		})
		if rerr != nil {
			return nil, usage, rerr
		}
		retryPrompt = rp
	} else {
		w.log.Printf("writer call failed, retrying: %v", callErr)
	}
	if err := sleepBackoff(ctx, w.cfg.RetryBackoff); err != nil {
		return nil, usage, err
	}

	raw, in, out, callErr = completeWithTimeout(ctx, w.provider, retryPrompt, w.model, w.cfg.CallTimeout)
	usage.Attempts++
	usage.TokensIn += in
	usage.TokensOut += out
	usage.Cost += w.provider.CalculateCost(in, out, w.model)
	if callErr != nil {
		if ctx.Err() != nil {
			return nil, usage, ctx.Err()
		}
		return nil, usage, fmt.Errorf("writer call failed twice: %w", callErr)
	}

	draft, perr := w.parse(raw, len(briefs))
	if perr != nil {
		return nil, usage, fmt.Errorf("draft still malformed after reformat retry: %w", perr)
	}
	return draft, usage, nil
}

func (w *Writer) parse(raw string, wantSections int) (*Draft, error) {
	md, err := helpers.UnwrapMarkdown(raw)
	if err != nil {
		return nil, err
	}
	return parseDraft(md, wantSections)
}

// parseDraft splits the markdown back into title and sections and checks the
// structure the writer was instructed to produce.
func parseDraft(markdown string, wantSections int) (*Draft, error) {
	trimmed := strings.TrimSpace(markdown)
	if trimmed == "" {
		return nil, errors.New("empty draft")
	}

	var title string
	sawTitle := false
	var sections []Section
	cur := -1

	for _, line := range strings.Split(trimmed, "\n") {
		switch {
		case strings.HasPrefix(line, "## "):
			heading := strings.TrimSpace(strings.TrimPrefix(line, "## "))
			if heading == "" {
				return nil, errors.New("section with empty heading")
			}
			sections = append(sections, Section{Heading: heading})
			cur = len(sections) - 1
		case strings.HasPrefix(line, "# "):
			if sawTitle {
				return nil, errors.New("multiple title lines")
			}
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			sawTitle = true
		default:
			if cur >= 0 {
				sections[cur].Body += line + "\n"
			}
		}
	}

	if !sawTitle || title == "" {
		return nil, errors.New("missing title line")
	}
	if len(sections) != wantSections {
		return nil, fmt.Errorf("found %d sections, expected %d", len(sections), wantSections)
	}
	for i := range sections {
		sections[i].Body = strings.TrimSpace(sections[i].Body)
		if sections[i].Body == "" {
			return nil, fmt.Errorf("section %q has no body", sections[i].Heading)
		}
	}

	return &Draft{Title: title, Sections: sections, RawMarkdown: trimmed}, nil
}
