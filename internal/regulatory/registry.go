// Package regulatory holds an embedded EU AI Act (2026 v2) article set
// and evaluates compliance vectors for autonomous actions.
package regulatory

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed articles.json
var articlesJSON []byte

// Article is one entry of the embedded knowledge base.
type Article struct {
	Section  string   `json:"section"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`
}

// ArticleRef is the compact form returned in compliance verdicts.
type ArticleRef struct {
	Section string `json:"section"`
	Title   string `json:"title"`
}

// QueryResult wraps a registry lookup.
type QueryResult struct {
	Section     string    `json:"section"`
	Keyword     string    `json:"keyword"`
	ResultCount int       `json:"result_count"`
	Articles    []Article `json:"articles"`
}

// Verdict is the outcome of a compliance-vector check.
type Verdict struct {
	Compliant               bool         `json:"compliant"`
	RiskClassification      string       `json:"risk_classification"`
	RequiresHumanOversight  bool         `json:"requires_human_oversight"`
	RequiresTransparency    bool         `json:"requires_transparency"`
	RelevantArticles        []ArticleRef `json:"relevant_articles"`
	Reasoning               string       `json:"reasoning"`
	ActionEvaluated         string       `json:"action_evaluated"`
}

// Registry serves the embedded article set. Read-only after construction,
// safe for concurrent use.
type Registry struct {
	articles []Article
}

// riskArticles maps risk classifications to the article sections that
// govern them.
var riskArticles = map[string][]string{
	"unacceptable": {"Article 5"},
	"high":         {"Article 6", "Article 9", "Article 13", "Article 14", "Article 52"},
	"limited":      {"Article 52"},
	"minimal":      {},
}

// NewRegistry parses the embedded article set.
func NewRegistry() (*Registry, error) {
	var doc struct {
		Articles []Article `json:"articles"`
	}
	if err := json.Unmarshal(articlesJSON, &doc); err != nil {
		return nil, fmt.Errorf("regulatory: parse embedded articles: %w", err)
	}
	if len(doc.Articles) == 0 {
		return nil, fmt.Errorf("regulatory: embedded article set is empty")
	}
	return &Registry{articles: doc.Articles}, nil
}

// Query returns articles matching a section substring or a keyword, both
// case-insensitive. With no filter every article matches. Results are
// capped at 10.
func (r *Registry) Query(section, keyword string) QueryResult {
	var results []Article
	for _, a := range r.articles {
		match := false
		if section != "" && strings.Contains(strings.ToLower(a.Section), strings.ToLower(section)) {
			match = true
		}
		if keyword != "" {
			searchable := strings.ToLower(a.Title + " " + a.Text + " " + strings.Join(a.Keywords, " "))
			if strings.Contains(searchable, strings.ToLower(keyword)) {
				match = true
			}
		}
		if section == "" && keyword == "" {
			match = true
		}
		if match {
			results = append(results, a)
		}
	}
	capped := results
	if len(capped) > 10 {
		capped = capped[:10]
	}
	return QueryResult{
		Section:     section,
		Keyword:     keyword,
		ResultCount: len(results),
		Articles:    capped,
	}
}

// CheckVector evaluates actionDescription against the act for the given
// risk level (minimal, limited, high, unacceptable). Unacceptable risk
// is always non-compliant.
func (r *Registry) CheckVector(actionDescription, riskLevel string) Verdict {
	level := strings.ToLower(riskLevel)
	sections := riskArticles[level]

	var relevant []ArticleRef
	for _, a := range r.articles {
		for _, sec := range sections {
			if strings.Contains(strings.ToLower(a.Section), strings.ToLower(sec)) {
				relevant = append(relevant, ArticleRef{Section: a.Section, Title: a.Title})
				break
			}
		}
	}

	v := Verdict{
		Compliant:              true,
		RiskClassification:     riskLevel,
		RequiresHumanOversight: level == "high" || level == "unacceptable",
		RequiresTransparency:   level == "high" || level == "limited",
		RelevantArticles:       relevant,
		ActionEvaluated:        actionDescription,
	}

	var parts []string
	switch level {
	case "unacceptable":
		v.Compliant = false
		parts = append(parts, "Action classified as unacceptable risk under Article 5: prohibited.")
	case "high":
		parts = append(parts, "Action classified as high-risk AI system. "+
			"Must satisfy Articles 6, 9 (risk management), 13 (transparency), "+
			"14 (human oversight), and 52 (transparency obligations).")
		if strings.Contains(strings.ToLower(actionDescription), "autonomous") {
			parts = append(parts, "Autonomous decision-making detected: human oversight (Article 14) "+
				"is mandatory before execution.")
		}
	case "limited":
		parts = append(parts, "Limited risk classification. Transparency obligations apply (Article 52).")
	default:
		parts = append(parts, "Minimal risk: no specific obligations under EU AI Act.")
	}
	v.Reasoning = strings.Join(parts, " ")
	return v
}
