package model

import (
	"strings"

	"docqa-engine/internal/domain"
)

type ThinkingLevel string

const (
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// MaxThinkingBudget caps explicit budgets supplied by clients.
const MaxThinkingBudget = 16384

var thinkingBudgets = map[ThinkingLevel]int{
	ThinkingLow:    512,
	ThinkingMedium: 2048,
	ThinkingHigh:   8192,
}

// ThinkingConfig is what the model port receives: a level plus a token budget.
type ThinkingConfig struct {
	Level  ThinkingLevel
	Budget int
}

// ResolveThinking returns the budget for a level, preferring an explicit budget.
func ResolveThinking(level ThinkingLevel, explicit int) ThinkingConfig {
	if level == "" {
		level = ThinkingMedium
	}
	budget := thinkingBudgets[level]
	if explicit > 0 {
		budget = explicit
	}
	if budget > MaxThinkingBudget {
		budget = MaxThinkingBudget
	}
	return ThinkingConfig{Level: level, Budget: budget}
}

// ModelProfile lists the thinking levels a model accepts.
type ModelProfile struct {
	Name         string          `json:"name"`
	Provider     string          `json:"provider"`
	Levels       []ThinkingLevel `json:"thinking_levels"`
	DefaultLevel ThinkingLevel   `json:"default_thinking_level"`
}

func (p ModelProfile) Supports(level ThinkingLevel) bool {
	if len(p.Levels) == 0 {
		return true
	}
	for _, l := range p.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// ModelCatalog is the set of models a deployment accepts. A nil or empty
// catalog accepts any model name with any level.
type ModelCatalog map[string]ModelProfile

func DefaultModelCatalog() ModelCatalog {
	return ModelCatalog{
		"gemini-3-flash-preview": {
			Name:         "gemini-3-flash-preview",
			Provider:     "gemini",
			Levels:       []ThinkingLevel{ThinkingLow, ThinkingMedium, ThinkingHigh},
			DefaultLevel: ThinkingMedium,
		},
		"gemini-3-pro-preview": {
			Name:         "gemini-3-pro-preview",
			Provider:     "gemini",
			Levels:       []ThinkingLevel{ThinkingLow, ThinkingHigh},
			DefaultLevel: ThinkingHigh,
		},
	}
}

// Resolve validates the model/level pair and fills in the default level.
func (c ModelCatalog) Resolve(name string, level ThinkingLevel) (ThinkingLevel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.ErrUnsupportedModel
	}
	if len(c) == 0 {
		if level == "" {
			level = ThinkingMedium
		}
		return level, nil
	}
	p, ok := c[name]
	if !ok {
		return "", domain.ErrUnsupportedModel
	}
	if level == "" {
		level = p.DefaultLevel
		if level == "" {
			level = ThinkingMedium
		}
	}
	if !p.Supports(level) {
		return "", domain.ErrUnsupportedEffort
	}
	return level, nil
}
