package experts

import (
	"regexp"
	"sort"
	"strings"
)

const MaxExperts = 3

var mentionRe = regexp.MustCompile(`@(\w+)`)

// ParseMentions resolves @mentions to persona names. A mention matches the
// first persona whose name equals or contains it, case-insensitively.
func (c *Catalog) ParseMentions(q string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range mentionRe.FindAllStringSubmatch(q, -1) {
		want := strings.ToLower(m[1])
		for _, p := range c.personas {
			if strings.Contains(strings.ToLower(p.Name), want) {
				if !seen[p.Name] {
					seen[p.Name] = true
					out = append(out, p.Name)
				}
				break
			}
		}
	}
	return out
}

// Relevance scores p against q in [0, 1].
func Relevance(p Persona, q string) float64 {
	lq := strings.ToLower(q)
	if strings.Contains(lq, "@"+strings.ToLower(p.Name)) {
		return 1.0
	}

	score := 0.0
	for _, s := range p.Specializations {
		if strings.Contains(lq, strings.ToLower(s)) {
			score += 0.3
		}
	}

	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(lq, notWordRune) {
		words[w] = true
	}
	for _, w := range strings.Fields(strings.ToLower(p.Title)) {
		if len(w) > 2 && words[w] {
			score += 0.2
			break
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func notWordRune(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
}

// Select picks the personas to consult: mentioned ones, else up to max by
// relevance, else DefaultExpert.
func (c *Catalog) Select(q string, max int) []string {
	if max <= 0 {
		max = MaxExperts
	}
	if m := c.ParseMentions(q); len(m) > 0 {
		return m
	}

	type scored struct {
		name  string
		score float64
	}
	var ranked []scored
	for _, p := range c.personas {
		if s := Relevance(p, q); s > 0 {
			ranked = append(ranked, scored{p.Name, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) == 0 {
		return []string{DefaultExpert}
	}
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.name
	}
	return out
}
