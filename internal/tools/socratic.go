package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tjfontaine/socratic-gateway/internal/storage"
)

// Tool names as exposed to the model.
const (
	NameWebSearch             = "webSearch"
	NameMapArgument           = "mapArgument"
	NameSuggestReading        = "suggestReading"
	NameDiscoverResources     = "discoverResources"
	NameDrawDiagram           = "drawDiagram"
	NameRetrievalPractice     = "retrievalPractice"
	NameProgressiveDisclosure = "progressiveDisclosure"
	NameSaveInsight           = "saveInsight"
)

const (
	searchMaxResults = 5
	discoverDays     = 14
	snippetLength    = 300
)

// Deps are the collaborators of the default tool set. Any of them may be nil;
// the affected tools then report the condition in their result.
type Deps struct {
	Searcher Searcher
	Insights storage.InsightStore
	Logger   *slog.Logger
	NewID    func() string
}

// Default builds the registry of tutoring tools in the order they are offered
// to the model.
func Default(deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	s := &socratic{deps: deps}

	var built []Tool
	add := func(t Tool, err error) error {
		if err != nil {
			return err
		}
		built = append(built, t)
		return nil
	}

	if err := errors.Join(
		add(NewTyped(NameWebSearch,
			"Search the web for current facts or evidence relevant to the topic being discussed. Use this to ground your Socratic questions in real-world information.",
			s.webSearch,
			MaxLength("query", 500))),
		add(NewTyped(NameMapArgument,
			"Map out the logical structure of an argument with premises, evidence, conclusion, and counterarguments. Use this when the user is constructing or defending a structured argument.",
			echo[ArgumentMap])),
		add(NewTyped(NameSuggestReading,
			"Recommend curated reading materials on a topic. Include a mix of difficulty levels and resource types. Only recommend real, well-known works.",
			echo[ReadingList],
			Enum("recommendations.[].type", "book", "article", "paper", "video"),
			Enum("recommendations.[].difficulty", "beginner", "intermediate", "advanced"))),
		add(NewTyped(NameDiscoverResources,
			"Search for recently published content (articles, podcasts, essays, videos, newsletters) relevant to the current discussion. Use this to surface fresh perspectives the user likely hasn't encountered.",
			s.discoverResources,
			MaxLength("query", 500),
			MaxLength("topic", 200),
			MaxLength("reason", 500))),
		add(NewTyped(NameDrawDiagram,
			"Draw a visual diagram to illustrate a concept, argument, or process. Use flowcharts for argument structures and cause-and-effect chains, sequence diagrams for back-and-forth interactions, and class diagrams for entity relationships. Keep diagrams to 4-8 nodes.",
			echo[Diagram],
			Enum("diagramType", "flowchart", "sequence", "class"))),
		add(NewTyped(NameRetrievalPractice,
			"Structure a recall challenge after teaching a concept. Use this after 3-4 substantive exchanges on a topic to test the user's understanding. First call with status 'question' to pose the challenge, then with status 'feedback' after the user responds.",
			echo[RecallChallenge],
			Enum("status", "question", "feedback"),
			Enum("feedback.assessment", "strong", "partial", "needs_work"))),
		add(NewTyped(NameProgressiveDisclosure,
			"Structure a multi-layered explanation from simple to nuanced. Start with the simplest mental model and build depth layer by layer, checking readiness before going deeper.",
			progressiveDisclosure,
			ItemCount("layers", 2, 5),
			DefaultValue("currentLevel", 1))),
		add(NewTyped(NameSaveInsight,
			"Save a breakthrough insight or realization that the user has reached during the Socratic dialogue. Only call this when the user has clearly articulated a genuine understanding.",
			s.saveInsight,
			MaxLength("insight", 1000),
			MaxLength("topic", 100))),
	); err != nil {
		return nil, err
	}

	return NewRegistry(built...)
}

type socratic struct {
	deps Deps
}

func echo[T any](_ context.Context, in T) (T, error) {
	return in, nil
}

func snippet(content string) string {
	r := []rune(content)
	if len(r) > snippetLength {
		return string(r[:snippetLength])
	}
	return content
}

func searchFailure(err error) (string, bool) {
	var status *StatusError
	switch {
	case errors.Is(err, ErrSearchNotConfigured):
		return err.Error(), true
	case errors.As(err, &status):
		return status.Error(), true
	}
	return "", false
}

// WebSearchInput is the webSearch argument.
type WebSearchInput struct {
	Query string `json:"query" jsonschema:"The search query" validate:"max=500"`
}

// WebSearchHit is one summarized search hit.
type WebSearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchOutput is the webSearch result.
type WebSearchOutput struct {
	Results []WebSearchHit `json:"results"`
	Error   string         `json:"error,omitempty"`
}

func (s *socratic) webSearch(ctx context.Context, in WebSearchInput) (WebSearchOutput, error) {
	out := WebSearchOutput{Results: []WebSearchHit{}}

	searcher := s.deps.Searcher
	if searcher == nil {
		out.Error = ErrSearchNotConfigured.Error()
		return out, nil
	}
	results, err := searcher.Search(ctx, SearchQuery{Query: in.Query, MaxResults: searchMaxResults})
	if err != nil {
		if msg, ok := searchFailure(err); ok {
			out.Error = msg
			return out, nil
		}
		return out, err
	}
	for _, r := range results {
		out.Results = append(out.Results, WebSearchHit{Title: r.Title, URL: r.URL, Snippet: snippet(r.Content)})
	}
	return out, nil
}

// DiscoverInput is the discoverResources argument.
type DiscoverInput struct {
	Query  string `json:"query" jsonschema:"Search query to find recent relevant content" validate:"max=500"`
	Topic  string `json:"topic" jsonschema:"The broader topic being discussed" validate:"max=200"`
	Reason string `json:"reason" jsonschema:"Why these resources matter for this conversation and how they connect to what the user is exploring" validate:"max=500"`
}

// Resource is a recently published piece of content.
type Resource struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Snippet       string  `json:"snippet"`
	PublishedDate *string `json:"publishedDate"`
}

// DiscoverOutput is the discoverResources result.
type DiscoverOutput struct {
	Topic     string     `json:"topic"`
	Reason    string     `json:"reason"`
	Resources []Resource `json:"resources"`
	Error     string     `json:"error,omitempty"`
}

func (s *socratic) discoverResources(ctx context.Context, in DiscoverInput) (DiscoverOutput, error) {
	out := DiscoverOutput{Topic: in.Topic, Reason: in.Reason, Resources: []Resource{}}

	searcher := s.deps.Searcher
	if searcher == nil {
		out.Error = ErrSearchNotConfigured.Error()
		return out, nil
	}
	results, err := searcher.Search(ctx, SearchQuery{Query: in.Query, MaxResults: searchMaxResults, Days: discoverDays})
	if err != nil {
		if msg, ok := searchFailure(err); ok {
			out.Error = msg
			return out, nil
		}
		return out, err
	}
	for _, r := range results {
		res := Resource{Title: r.Title, URL: r.URL, Snippet: snippet(r.Content)}
		if r.PublishedDate != "" {
			date := r.PublishedDate
			res.PublishedDate = &date
		}
		out.Resources = append(out.Resources, res)
	}
	return out, nil
}

// Premise supports a claim.
type Premise struct {
	Text     string   `json:"text" jsonschema:"The premise statement"`
	Evidence []string `json:"evidence" jsonschema:"Supporting evidence for this premise"`
}

// Counterargument challenges a claim.
type Counterargument struct {
	Point    string `json:"point" jsonschema:"The counterargument"`
	Rebuttal string `json:"rebuttal,omitempty" jsonschema:"Optional rebuttal to the counterargument"`
}

// ArgumentMap is the mapArgument argument and result.
type ArgumentMap struct {
	Claim            string            `json:"claim" jsonschema:"The main claim or thesis being argued"`
	Premises         []Premise         `json:"premises" jsonschema:"The premises supporting the claim" validate:"dive"`
	Conclusion       string            `json:"conclusion" jsonschema:"The conclusion drawn from the premises"`
	Counterarguments []Counterargument `json:"counterarguments,omitempty" jsonschema:"Counterarguments to the claim"`
}

// Recommendation is a single suggested work.
type Recommendation struct {
	Title       string `json:"title" jsonschema:"Title of the work"`
	Author      string `json:"author" jsonschema:"Author of the work"`
	Type        string `json:"type" jsonschema:"Type of resource" validate:"oneof=book article paper video"`
	Description string `json:"description" jsonschema:"Brief description of why this is recommended"`
	Difficulty  string `json:"difficulty" jsonschema:"Difficulty level" validate:"oneof=beginner intermediate advanced"`
}

// ReadingList is the suggestReading argument and result.
type ReadingList struct {
	Topic           string           `json:"topic" jsonschema:"The topic for reading recommendations"`
	Recommendations []Recommendation `json:"recommendations" jsonschema:"List of reading recommendations" validate:"dive"`
}

// Diagram is the drawDiagram argument and result.
type Diagram struct {
	Title         string `json:"title" jsonschema:"Brief diagram title"`
	DiagramType   string `json:"diagramType" jsonschema:"The type of Mermaid diagram" validate:"oneof=flowchart sequence class"`
	MermaidSyntax string `json:"mermaidSyntax" jsonschema:"Valid Mermaid diagram code"`
}

// RecallFeedback grades an answer to a recall challenge.
type RecallFeedback struct {
	Assessment           string   `json:"assessment" jsonschema:"How well the user recalled the concept" validate:"oneof=strong partial needs_work"`
	WhatWasRight         []string `json:"whatWasRight" jsonschema:"Points the user got right"`
	WhatWasMissed        []string `json:"whatWasMissed" jsonschema:"Points the user missed"`
	CorrectedExplanation string   `json:"correctedExplanation" jsonschema:"The corrected or complete explanation"`
	FollowUpQuestion     string   `json:"followUpQuestion" jsonschema:"A follow-up question to deepen understanding"`
}

// RecallChallenge is the retrievalPractice argument and result.
type RecallChallenge struct {
	Topic    string          `json:"topic" jsonschema:"The concept being tested"`
	Status   string          `json:"status" jsonschema:"Which phase of the recall loop" validate:"oneof=question feedback"`
	Question string          `json:"question" jsonschema:"The retrieval question"`
	Hint     string          `json:"hint,omitempty" jsonschema:"A nudge if the user is stuck"`
	Feedback *RecallFeedback `json:"feedback,omitempty" jsonschema:"Only provided when status is feedback"`
}

// Layer is one depth level of an explanation.
type Layer struct {
	Level             int    `json:"level" jsonschema:"Depth level starting at 1"`
	Title             string `json:"title" jsonschema:"Short title for this level"`
	Explanation       string `json:"explanation" jsonschema:"The explanation at this depth"`
	Analogy           string `json:"analogy,omitempty" jsonschema:"Optional analogy to make it concrete"`
	ReadinessQuestion string `json:"readinessQuestion" jsonschema:"Question to check before going deeper"`
}

// LayeredExplanation is the progressiveDisclosure argument and result.
type LayeredExplanation struct {
	Concept      string  `json:"concept" jsonschema:"What is being explained"`
	Layers       []Layer `json:"layers" jsonschema:"The explanation layers from simple to complex" validate:"min=2,max=5"`
	CurrentLevel int     `json:"currentLevel,omitempty" jsonschema:"Where the user is now"`
}

func progressiveDisclosure(_ context.Context, in LayeredExplanation) (LayeredExplanation, error) {
	if in.CurrentLevel == 0 {
		in.CurrentLevel = 1
	}
	return in, nil
}

// InsightInput is the saveInsight argument.
type InsightInput struct {
	Insight string `json:"insight" jsonschema:"The insight or realization the user reached" validate:"max=1000"`
	Topic   string `json:"topic,omitempty" jsonschema:"The topic area of the insight" validate:"max=100"`
}

// InsightOutput is the saveInsight result.
type InsightOutput struct {
	Saved   bool    `json:"saved"`
	Insight string  `json:"insight"`
	Topic   *string `json:"topic"`
	Error   string  `json:"error,omitempty"`
}

const msgInsightFailed = "Failed to save insight"

func (s *socratic) saveInsight(ctx context.Context, in InsightInput) (InsightOutput, error) {
	out := InsightOutput{Insight: in.Insight}
	if in.Topic != "" {
		topic := in.Topic
		out.Topic = &topic
	}

	if s.deps.Insights == nil {
		out.Error = "insight storage is not configured"
		return out, nil
	}

	err := s.deps.Insights.SaveInsight(ctx, &storage.Insight{
		ID:      s.deps.NewID(),
		UserID:  PrincipalFrom(ctx),
		Insight: in.Insight,
		Topic:   in.Topic,
	})
	if err != nil {
		s.deps.Logger.Warn("save insight failed", slog.String("error", err.Error()))
		out.Error = msgInsightFailed
		return out, nil
	}

	out.Saved = true
	return out, nil
}
