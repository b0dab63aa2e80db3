package experts

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

const collaborationPreview = 200

// UserInfo personalises the prompt.
type UserInfo struct {
	Name string
	Role string
}

type Response struct {
	Expert   string `json:"expert"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Fallback bool   `json:"fallback,omitempty"`
}

type Consultation struct {
	Experts   []string   `json:"experts"`
	Responses []Response `json:"responses"`
}

// Text joins the expert answers into one markdown document.
func (c *Consultation) Text() string {
	parts := make([]string, 0, len(c.Responses))
	for _, r := range c.Responses {
		parts = append(parts, fmt.Sprintf("### %s (@%s)\n\n%s", r.Title, r.Expert, strings.TrimSpace(r.Text)))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Consultant asks the selected personas one after another. Later experts
// see a preview of what earlier ones said.
type Consultant struct {
	catalog *Catalog
	llm     core.LLMProvider
	log     logging.Logger
}

func NewConsultant(catalog *Catalog, llm core.LLMProvider, log logging.Logger) *Consultant {
	return &Consultant{catalog: catalog, llm: llm, log: log.With("component", "experts")}
}

func (c *Consultant) Catalog() *Catalog { return c.catalog }

// Consult answers q with the personas chosen by Select. A failed persona
// yields a short fallback answer instead of failing the consultation.
func (c *Consultant) Consult(ctx context.Context, model string, temperature float32, q, sopContext string, user *UserInfo) (*Consultation, error) {
	names := c.catalog.Select(q, MaxExperts)
	res := &Consultation{Experts: names}

	var collab strings.Builder
	for _, name := range names {
		p, ok := c.catalog.Get(name)
		if !ok {
			continue
		}

		text, err := c.llm.Generate(ctx, core.GenerateRequest{
			Model:       model,
			System:      systemPrompt(p),
			Prompt:      expertPrompt(p, q, sopContext, collab.String(), user),
			Temperature: temperature,
		})
		fallback := false
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn(ctx, "expert failed, using fallback", "expert", name, "err", err)
			text = fmt.Sprintf("As a %s, I understand your question about %s. Let me provide some general guidance based on my expertise in %s.",
				p.Title, q, strings.ToLower(p.Expertise))
			fallback = true
		}

		res.Responses = append(res.Responses, Response{Expert: p.Name, Title: p.Title, Text: text, Fallback: fallback})
		fmt.Fprintf(&collab, "\n%s's perspective: %s...", p.Name, preview(text, collaborationPreview))
	}
	return res, nil
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func systemPrompt(p Persona) string {
	return fmt.Sprintf("You are %s, a %s with expertise in %s.\n\nPERSONALITY & APPROACH: %s",
		p.Name, p.Title, p.Expertise, p.Personality)
}

func expertPrompt(p Persona, q, sopContext, collab string, user *UserInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CORE SPECIALIZATIONS:\n")
	for _, s := range p.Specializations {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	fmt.Fprintf(&b, "\nUSER QUERY: %s\n\n", q)
	if user != nil && user.Name != "" {
		fmt.Fprintf(&b, "USER CONTEXT: You are speaking with %s, a %s in your organization.\n\n", user.Name, user.Role)
	}

	if sopContext == "" {
		sopContext = "No specific SOP context available"
	}
	fmt.Fprintf(&b, "RELEVANT SOP CONTEXT:\n%s\n\n", sopContext)

	if collab != "" {
		fmt.Fprintf(&b, "COLLABORATION CONTEXT:%s\n\n", collab)
	}

	b.WriteString(`INSTRUCTIONS:
1. Start with direct technical analysis, no greetings.
2. Cite the SOP filenames you rely on in quotes after each relevant point.
3. Reference real industry standards (ISO, FDA CFR, OSHA, cGMP) where they apply.
4. Use ## headings and one bullet per line.
5. End with clear next steps.
`)
	return b.String()
}
