package config

// Default prompt templates for the pipeline stages. Templates use Go
// text/template syntax; the pipeline supplies the data described next to
// each template. Overridable per stage through the prompts section.

// DefaultSelectorPrompt receives {Count int, Items []{Index, Title, Summary}}.
const DefaultSelectorPrompt = `You are the topic selection agent of an AI news digest.
Below is a numbered list of recent headlines pulled from RSS feeds.

{{range .Items}}{{.Index}}. {{.Title}}{{if .Summary}} :: {{.Summary}}{{end}}
{{end}}
Select exactly {{.Count}} distinct AI-relevant topics that are currently trending
across these headlines. Topics must not overlap in subject matter.

Respond with JSON only, no prose, in exactly this shape:
{"topics": [{"name": "short topic name", "rationale": "one sentence on why it trends", "items": [0, 3]}]}

"items" lists the numbers of the headlines supporting the topic.`

// DefaultSelectorRetryPrompt receives {Count int, Reason string, Items []{Index, Title, Summary}}.
const DefaultSelectorRetryPrompt = `Your previous answer was rejected: {{.Reason}}.

Below is the same numbered list of headlines.

{{range .Items}}{{.Index}}. {{.Title}}{{if .Summary}} :: {{.Summary}}{{end}}
{{end}}
You MUST return exactly {{.Count}} topics. Every topic name must be unique
(comparison is case-insensitive). Respond with JSON only, no prose:
{"topics": [{"name": "...", "rationale": "...", "items": [0]}]}`

// DefaultResearcherPrompt receives {Topic {Name, Rationale}, Articles []{Title, Link, Summary, Content}}.
const DefaultResearcherPrompt = `You are the research agent of an AI news digest.
Topic under research: {{.Topic.Name}}
Why it matters: {{.Topic.Rationale}}

Source articles:
{{range .Articles}}- {{.Title}} ({{.Link}})
  {{.Summary}}{{if .Content}}
  {{.Content}}{{end}}
{{end}}
Write a factual brief about this topic using only the source articles above.
Every fact must be supported by at least one of the articles. Cite only URLs
that appear in the source list.

Respond with JSON only, no prose:
{"facts": ["fact one", "fact two"], "citations": ["https://..."]}`

// DefaultWriterPrompt receives {Briefs []{Topic {Name}, Facts []string, Citations []string}}.
const DefaultWriterPrompt = `You are the writer of an AI news digest. Compose the full newsletter
from the research briefs below.

{{range .Briefs}}Topic: {{.Topic.Name}}
Facts:
{{range .Facts}}- {{.}}
{{end}}Citations:
{{range .Citations}}- {{.}}
{{end}}
{{end}}
Produce a markdown document with exactly this structure:
- one top-level title line starting with "# "
- one section per topic, in the order given, starting with "## " and the topic name
- inside each section a synthesized paragraph followed by a "Sources:" line
  listing that topic's citation URLs, one per line prefixed with "- "
- a short closing paragraph after the last section

Use only the facts and citations provided. Respond with markdown only.`

// DefaultWriterRetryPrompt receives {SectionCount int, Previous string}.
const DefaultWriterRetryPrompt = `Your previous response could not be parsed as a structured newsletter.
Reformat it as markdown with headings: a single "# " title line and exactly
{{.SectionCount}} sections, each opening with a "## " heading. Keep the prose
and the "Sources:" lists, change only the formatting. Respond with markdown only.

Previous response:
{{.Previous}}`
