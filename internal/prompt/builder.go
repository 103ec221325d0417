// Package prompt assembles model prompts from classified requests.
//
// A prompt is built from up to nine ordered sections — system role, game
// context, intent directive, complexity style, request-type format,
// extracted entities, world knowledge, a closing reminder, and an optional
// instruction passthrough — each omitted when it has nothing to say. A
// configurable token budget trims the least important sections when the
// assembled prompt would run long.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/MrWong99/sensai/internal/conversation"
	"github.com/MrWong99/sensai/internal/knowledge"
	"github.com/MrWong99/sensai/pkg/types"
)

// charsPerToken is the estimation ratio used for budget checks.
const charsPerToken = 4

// defaultTopK bounds the world-knowledge section.
const defaultTopK = 3

// DefaultSystemPrompt is the tutor persona and its hard constraints.
const DefaultSystemPrompt = "You are a friendly Japanese language tutor living inside a " +
	"language-learning adventure game. Answer in English, keep answers to at " +
	"most three sentences, use only vocabulary appropriate to the player's " +
	"level, and never discuss topics outside the game world."

// reminderText restates the hard limits at the end of every prompt.
const reminderText = "Remember: at most three sentences, plain English, beginner-friendly."

// sectionID orders and identifies prompt sections.
type sectionID int

const (
	secSystem sectionID = iota
	secGameContext
	secIntent
	secComplexity
	secRequestType
	secEntities
	secWorldContext
	secReminder
	secAdditional
)

// dropOrder lists sections eligible for removal under token pressure, least
// important first. The system, intent and reminder sections are never
// dropped.
var dropOrder = []sectionID{
	secWorldContext,
	secRequestType,
	secGameContext,
	secAdditional,
	secEntities,
	secComplexity,
}

// fillerWords are removed from droppable sections under token pressure.
var fillerWords = map[string]bool{
	"actually":  true,
	"basically": true,
	"just":      true,
	"quite":     true,
	"really":    true,
	"very":      true,
}

var intentDirectives = map[types.Intent]string{
	types.IntentVocabularyHelp:          "Give the meaning of the word, its reading, and one short example sentence.",
	types.IntentGrammarExplanation:      "Explain the grammar point with one simple example; avoid linguistic jargon.",
	types.IntentDirectionGuidance:       "Give step-by-step directions the player can follow in the game world, teaching the Japanese phrase for each step.",
	types.IntentTranslationConfirmation: "Confirm whether the player's translation is correct; if not, give the corrected sentence.",
	types.IntentGeneralHint:             "Give one helpful hint that moves the player forward without solving the task for them.",
}

var complexityStyles = map[types.Complexity]string{
	types.ComplexitySimple:   "Answer in one short sentence.",
	types.ComplexityModerate: "Answer in at most two sentences with one example.",
	types.ComplexityComplex:  "Answer in at most three sentences; include a brief example and a usage note.",
}

var requestTypeFormats = map[string]string{
	"vocabulary":  "Format: word — meaning — example.",
	"grammar":     "Format: the rule first, then an example.",
	"directions":  "Format: numbered steps.",
	"translation": "Format: verdict first, then the corrected sentence if needed.",
}

// Builder assembles prompts. Construct with [NewBuilder]; the zero value
// builds bare prompts without knowledge retrieval or history.
//
// Safe for concurrent use.
type Builder struct {
	systemPrompt string
	searcher     knowledge.Searcher
	manager      *conversation.Manager
	topK         int
	budget       int
	wrapTags     bool
}

// Option customizes a Builder.
type Option func(*Builder)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(s string) Option {
	return func(b *Builder) { b.systemPrompt = s }
}

// WithKnowledge enables the world-knowledge section, retrieving up to topK
// documents per prompt. topK <= 0 selects a default of 3.
func WithKnowledge(s knowledge.Searcher, topK int) Option {
	return func(b *Builder) {
		b.searcher = s
		if topK > 0 {
			b.topK = topK
		}
	}
}

// WithConversation enables [Builder.BuildContextual].
func WithConversation(m *conversation.Manager) Option {
	return func(b *Builder) { b.manager = m }
}

// WithTokenBudget trims prompts estimated to exceed budget tokens. Zero
// disables trimming.
func WithTokenBudget(budget int) Option {
	return func(b *Builder) { b.budget = budget }
}

// WithConversationalWrapping wraps the finished prompt in <s>…</s> system
// and <user>…</user> tags for remote models that expect conversational
// framing.
func WithConversationalWrapping() Option {
	return func(b *Builder) { b.wrapTags = true }
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{systemPrompt: DefaultSystemPrompt, topK: defaultTopK}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type section struct {
	id   sectionID
	text string
}

// Build assembles the prompt for req. Knowledge-retrieval failures degrade
// to a prompt without the world-context section; Build itself never fails.
func (b *Builder) Build(ctx context.Context, req types.ClassifiedRequest) string {
	secs := b.sections(ctx, req)

	if b.budget > 0 && estimateTokens(joinSections(secs)) > b.budget {
		secs = b.trim(secs)
	}
	return b.wrap(secs)
}

// BuildContextual builds the prompt and, when the conversation's detected
// state is a follow-up or clarification, appends the recent history and a
// state directive. Without a configured conversation manager it behaves
// like [Builder.Build].
func (b *Builder) BuildContextual(ctx context.Context, req types.ClassifiedRequest) string {
	base := b.Build(ctx, req)
	if b.manager == nil || req.ConversationID == "" {
		return base
	}
	history, err := b.manager.History(ctx, req.ConversationID)
	if err != nil {
		slog.Warn("prompt: load conversation history", "conversation_id", req.ConversationID, "error", err)
		return base
	}
	state := conversation.DetectState(req.PlayerInput, history)
	return conversation.BuildPrompt(base, history, state)
}

// sections produces the ordered section list, empty entries included.
func (b *Builder) sections(ctx context.Context, req types.ClassifiedRequest) []section {
	return []section{
		{secSystem, b.systemPrompt},
		{secGameContext, gameContextSection(req.GameContext)},
		{secIntent, intentSection(req)},
		{secComplexity, complexityStyles[req.Complexity]},
		{secRequestType, requestTypeFormats[req.RequestType]},
		{secEntities, entitiesSection(req.Entities)},
		{secWorldContext, b.worldSection(ctx, req)},
		{secReminder, reminderText},
		{secAdditional, req.AdditionalParams["additional_instructions"]},
	}
}

// trim applies the token-budget optimizations: whitespace collapse and
// filler removal everywhere it is safe, then section dropping in dropOrder
// until the estimate fits.
func (b *Builder) trim(secs []section) []section {
	for i := range secs {
		secs[i].text = collapseWhitespace(secs[i].text)
	}
	for i := range secs {
		if droppable(secs[i].id) {
			secs[i].text = dropFillers(secs[i].text)
		}
	}
	for _, id := range dropOrder {
		if estimateTokens(joinSections(secs)) <= b.budget {
			break
		}
		for i := range secs {
			if secs[i].id == id {
				secs[i].text = ""
			}
		}
	}
	return secs
}

// wrap joins the non-empty sections and applies conversational tags when
// configured.
func (b *Builder) wrap(secs []section) string {
	if !b.wrapTags {
		return joinSections(secs)
	}
	var system string
	rest := make([]section, 0, len(secs))
	for _, s := range secs {
		if s.id == secSystem {
			system = s.text
			continue
		}
		rest = append(rest, s)
	}
	return "<s>" + system + "</s>\n<user>" + joinSections(rest) + "</user>"
}

func joinSections(secs []section) string {
	parts := make([]string, 0, len(secs))
	for _, s := range secs {
		if s.text != "" {
			parts = append(parts, s.text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func droppable(id sectionID) bool {
	for _, d := range dropOrder {
		if d == id {
			return true
		}
	}
	return false
}

func estimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func dropFillers(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if fillerWords[strings.ToLower(strings.Trim(f, ".,;:"))] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func intentSection(req types.ClassifiedRequest) string {
	return intentDirectives[req.Intent]
}

func gameContextSection(gc *types.GameContext) string {
	if gc == nil {
		return ""
	}
	var lines []string
	if gc.Location != "" {
		lines = append(lines, "Location: "+gc.Location)
	}
	if gc.Objective != "" {
		lines = append(lines, "Objective: "+gc.Objective)
	}
	if len(gc.Inventory) > 0 {
		lines = append(lines, "Inventory: "+strings.Join(gc.Inventory, ", "))
	}
	if len(gc.Proficiency) > 0 {
		keys := make([]string, 0, len(gc.Proficiency))
		for k := range gc.Proficiency {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, gc.Proficiency[k]))
		}
		lines = append(lines, "Proficiency: "+strings.Join(pairs, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Game context:\n" + strings.Join(lines, "\n")
}

func entitiesSection(entities map[string]string) string {
	if len(entities) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, entities[k]))
	}
	return "Details from the player's question:\n" + strings.Join(lines, "\n")
}

func (b *Builder) worldSection(ctx context.Context, req types.ClassifiedRequest) string {
	if b.searcher == nil {
		return ""
	}
	results, err := knowledge.ContextualSearch(ctx, b.searcher, req, b.topK)
	if err != nil {
		slog.Warn("prompt: world knowledge search", "request_id", req.RequestID, "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, "- "+r.Doc)
	}
	return "Relevant world knowledge:\n" + strings.Join(lines, "\n")
}
