package components

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxPromptRunes bounds the prompt accepted by Generate.
	MaxPromptRunes = 500
	maxTitleRunes  = 60
)

// Component is the payload returned to a paying client.
type Component struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Prompt    string                 `json:"prompt,omitempty"`
	Props     map[string]interface{} `json:"props"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Preview is the free, unpaid view of a template.
type Preview struct {
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
	PropKeys    []string `json:"propKeys"`
}

// Generate fills the named template with the prompt. The prompt's first
// sentence becomes the component title.
func (c *Catalog) Generate(name, prompt string) (*Component, error) {
	t, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	prompt = strings.TrimSpace(prompt)
	if n := utf8.RuneCountInString(prompt); n > MaxPromptRunes {
		return nil, fmt.Errorf("%w: %d runes, limit is %d", ErrPromptTooLong, n, MaxPromptRunes)
	}

	title := titleFromPrompt(prompt)
	if title == "" {
		title = t.Title
	}

	props := copyMap(t.Props)
	props["title"] = title

	return &Component{
		ID:        uuid.NewString(),
		Type:      t.Name,
		Title:     title,
		Prompt:    prompt,
		Props:     props,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Preview describes the named template without its props values.
func (c *Catalog) Preview(name string) (*Preview, error) {
	t, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(t.Props))
	for k := range t.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Preview{
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description,
		Keywords:    t.Keywords,
		PropKeys:    keys,
	}, nil
}

// Suggest picks the template whose keywords best match the prompt. Ties go
// to the template listed first; no match at all suggests a card.
func (c *Catalog) Suggest(prompt string) string {
	words := tokenize(prompt)
	if len(words) == 0 {
		return Card
	}
	joined := " " + strings.Join(words, " ") + " "

	best, bestScore := Card, 0
	for _, name := range shapes {
		t, ok := c.templates[name]
		if !ok {
			continue
		}
		score := 0
		for _, kw := range t.Keywords {
			if strings.Contains(joined, " "+strings.ToLower(kw)+" ") {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	return best
}

func titleFromPrompt(prompt string) string {
	if i := strings.IndexAny(prompt, ".!?\n"); i >= 0 {
		prompt = prompt[:i]
	}
	prompt = strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(prompt) <= maxTitleRunes {
		return prompt
	}
	r := []rune(prompt)
	return strings.TrimSpace(string(r[:maxTitleRunes]))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		return copyMap(vv)
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
