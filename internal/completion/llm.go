package completion

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-graph/internal/model"
	"github.com/sells-group/entity-graph/pkg/anthropic"
)

// Defaults for LLMProposer.
const (
	DefaultModel          = "claude-haiku-4-5-20251001"
	DefaultMaxTokens      = 2000
	DefaultMaxNewEntities = 10
)

const systemPrompt = `You are a knowledge graph completion assistant.
Given the entities and relationships of a graph, propose additional IMPLICIT entities and relationships that follow from background knowledge and are not already present.
Rules:
- Predicates are 1-3 lowercase words.
- Relationship subjects and objects must be existing entity names or entities you propose in the same answer.
- Never repeat an existing relationship.
- Answer with a single JSON object and nothing else:
{"entities":[{"name":"...","type":"..."}],"relationships":[{"subject":"...","predicate":"...","object":"..."}]}
- Answer {"entities":[],"relationships":[]} when the graph is complete.`

const temperature = 0.2

// LLMProposer asks a Claude model for completions.
type LLMProposer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxNew    int
}

// NewLLMProposer creates an LLMProposer. Zero values take the defaults.
func NewLLMProposer(client anthropic.Client, model string, maxTokens int64, maxNewEntities int) *LLMProposer {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if maxNewEntities <= 0 {
		maxNewEntities = DefaultMaxNewEntities
	}
	return &LLMProposer{client: client, model: model, maxTokens: maxTokens, maxNew: maxNewEntities}
}

type promptEntity struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type promptTriple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

type promptGraph struct {
	Entities      []promptEntity `json:"entities"`
	Relationships []promptTriple `json:"relationships"`
}

// Propose sends the current graph and parses the proposed additions.
func (p *LLMProposer) Propose(ctx context.Context, g *model.Graph) (Proposal, error) {
	pg := promptGraph{
		Entities:      make([]promptEntity, 0, len(g.Entities)),
		Relationships: make([]promptTriple, 0, len(g.Relationships)),
	}
	for _, e := range g.Entities {
		pg.Entities = append(pg.Entities, promptEntity{Name: e.Name, Type: e.Type})
	}
	for _, t := range g.Relationships {
		pg.Relationships = append(pg.Relationships, promptTriple{Subject: t.Subject, Predicate: t.Predicate, Object: t.Object})
	}
	body, err := json.MarshalIndent(pg, "", "  ")
	if err != nil {
		return Proposal{}, eris.Wrap(err, "completion: marshal graph")
	}

	temp := temperature
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt, Cached: true}},
		Messages:    []anthropic.Message{{Role: "user", Content: "Current graph:\n" + string(body)}},
		Temperature: &temp,
	})
	if err != nil {
		return Proposal{}, eris.Wrap(err, "completion: propose")
	}
	resp.Usage.LogCost(p.model, "completion")

	return p.parse(resp.Text(), g)
}

// parse decodes the model reply, dropping incomplete items and anything
// already in g.
func (p *LLMProposer) parse(text string, g *model.Graph) (Proposal, error) {
	raw := extractJSON(text)
	if raw == "" {
		return Proposal{}, eris.New("completion: no json object in reply")
	}
	var pg promptGraph
	if err := json.Unmarshal([]byte(raw), &pg); err != nil {
		return Proposal{}, eris.Wrap(err, "completion: unmarshal reply")
	}

	existing := make(map[string]bool, len(g.Entities))
	for _, e := range g.Entities {
		existing[strings.ToLower(e.Name)] = true
	}
	have := make(map[promptTriple]bool, len(g.Relationships))
	for _, t := range g.Relationships {
		have[promptTriple{Subject: t.Subject, Predicate: t.Predicate, Object: t.Object}] = true
	}

	var out Proposal
	for _, e := range pg.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" || existing[strings.ToLower(name)] {
			continue
		}
		if len(out.Entities) >= p.maxNew {
			break
		}
		existing[strings.ToLower(name)] = true
		out.Entities = append(out.Entities, model.CandidateEntity{
			Name:       name,
			Type:       model.CanonicalType(e.Type),
			Provenance: model.ProvenanceImplicit,
		})
	}
	for _, t := range pg.Relationships {
		t.Subject, t.Predicate, t.Object = strings.TrimSpace(t.Subject), strings.TrimSpace(t.Predicate), strings.TrimSpace(t.Object)
		if t.Subject == "" || t.Predicate == "" || t.Object == "" || have[t] {
			continue
		}
		have[t] = true
		out.Relationships = append(out.Relationships, model.RelationshipTriple{
			Subject:    t.Subject,
			Predicate:  strings.ToLower(t.Predicate),
			Object:     t.Object,
			Provenance: model.ProvenanceImplicit,
		})
	}
	return out, nil
}

// extractJSON returns the outermost {...} in s, tolerating code fences and
// surrounding prose.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
