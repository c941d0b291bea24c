package router

import (
	"strings"
)

// Signals are the keyword matches found in one message text.
type Signals struct {
	DBReference bool
	Entity      string
	CRUD        CRUDClass
}

// Router maps a message history to a Decision. It holds no mutable state;
// a Router is safe for concurrent use.
type Router struct {
	rules  Ruleset
	models Models
}

// New creates a Router. Empty model fields fall back to the defaults.
func New(rules Ruleset, models Models) *Router {
	def := DefaultModels()
	if models.Chat == "" {
		models.Chat = def.Chat
	}
	if models.Tool == "" {
		models.Tool = def.Tool
	}
	if models.ToolMaxSteps <= 0 {
		models.ToolMaxSteps = def.ToolMaxSteps
	}
	return &Router{rules: rules.normalized(), models: models}
}

// NewDefault creates a Router with the built-in keyword tables and models.
func NewDefault() *Router {
	return New(DefaultRuleset(), DefaultModels())
}

// Models returns the tier assignment the router uses.
func (r *Router) Models() Models {
	return r.models
}

// Decide inspects the most recent user message and selects a model tier.
// The result depends only on messages.
func (r *Router) Decide(messages []Message) Decision {
	text, ok := lastUserText(messages)
	if !ok {
		return r.chat(ReasonNoUserMessage)
	}

	s := r.Analyze(text)
	switch {
	case s.DBReference:
		return r.tool(ReasonExplicitDB)
	case s.Entity != "" && s.CRUD != "":
		return r.tool(ReasonEntityCRUD + ":" + s.Entity + "+" + string(s.CRUD))
	default:
		return r.chat(ReasonGeneralChat)
	}
}

// Analyze reports which keyword signals occur in text.
func (r *Router) Analyze(text string) Signals {
	lower := strings.ToLower(text)
	var s Signals
	s.DBReference = containsAny(lower, r.rules.DBKeywords)
	for _, e := range r.rules.Entities {
		if strings.Contains(lower, e) {
			s.Entity = e
			break
		}
	}
	for _, rule := range r.rules.CRUD {
		if containsAny(lower, rule.Keywords) {
			s.CRUD = rule.Class
			break
		}
	}
	return s
}

func (r *Router) chat(reason string) Decision {
	return Decision{NeedsTools: false, Reason: reason, Model: r.models.Chat, MaxSteps: 1, Tier: TierChat}
}

func (r *Router) tool(reason string) Decision {
	return Decision{NeedsTools: true, Reason: reason, Model: r.models.Tool, MaxSteps: r.models.ToolMaxSteps, Tier: TierTool}
}

func lastUserText(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Text(), true
		}
	}
	return "", false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
