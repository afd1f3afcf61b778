package extractor

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is the instruction template sent with every chunk. The template may
// reference <host>, <guest> and <excerpt>.
type Prompt struct {
	System   string `yaml:"system"`
	Template string `yaml:"template"`
	Host     string `yaml:"host"`
	Guest    string `yaml:"guest"`
}

// Render substitutes the placeholders for one chunk.
func (p Prompt) Render(excerpt string) string {
	host, guest := p.Host, p.Guest
	if host == "" {
		host = "the host"
	}
	if guest == "" {
		guest = "the guest"
	}
	r := strings.NewReplacer("<host>", host, "<guest>", guest, "<excerpt>", excerpt)
	return r.Replace(p.Template)
}

// LoadPrompt reads a YAML prompt file. Fields left empty fall back to DefaultPrompt.
func LoadPrompt(path string) (Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompt{}, fmt.Errorf("read prompt: %w", err)
	}

	p := DefaultPrompt()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompt{}, fmt.Errorf("parse prompt: %w", err)
	}
	if !strings.Contains(p.Template, "<excerpt>") {
		return Prompt{}, fmt.Errorf("prompt template has no <excerpt> placeholder")
	}
	return p, nil
}

func DefaultPrompt() Prompt {
	return Prompt{
		System:   defaultSystemPrompt,
		Template: defaultTemplate,
	}
}

const defaultSystemPrompt = `You extract beliefs from podcast transcripts. Follow the requested output format exactly, including key names and value types.`

const defaultTemplate = `Below is an excerpt from a podcast where <host> interviews <guest>.

Extract the beliefs <guest> explicitly expresses in the excerpt.
- Do not include beliefs that are only implied or inferred.
- Do not include beliefs expressed by <host>.

For each belief provide:
- "belief": the belief, stated precisely.
- "context": the exact text where the belief was expressed.
- "justification": the key supporting evidence <guest> gives for it.
- "certainty": "high", "medium" or "low", reflecting the confidence <guest> expressed.

Respond with valid JSON matching this schema:
{
  "beliefs": [
    {"belief": "string", "context": "string", "justification": "string", "certainty": "high|medium|low"}
  ]
}

If <guest> expresses no beliefs in the excerpt, return {"beliefs": []}.
Return ONLY the JSON object, no markdown fences or other text.

Excerpt:
---
<excerpt>
---`
