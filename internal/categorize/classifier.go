// Package categorize assigns spending categories to transactions.
//
// This file implements the Strategy Pattern for classification. The worker
// depends only on the Classifier interface, so the keyword rules below can
// be swapped for a model-backed or remote implementation.
package categorize

import (
	"context"
	"fmt"
	"strings"

	"lucro/internal/core"
)

// Classifier is the strategy interface for categorizing a transaction.
// Implementations must be free of side effects so that a redelivered job
// can classify the same row again.
type Classifier interface {
	// Classify returns the category for a transaction description, or an
	// error when no category can be assigned.
	Classify(ctx context.Context, description string) (core.Category, error)
}

// Rule maps any of its keywords to a category.
type Rule struct {
	Category core.Category
	Keywords []string
}

// DefaultRules are checked in order; the first matching rule wins.
var DefaultRules = []Rule{
	{Category: core.CategoryShopping, Keywords: []string{"amazon"}},
	{Category: core.CategoryIncome, Keywords: []string{"stripe", "paypal"}},
	{Category: core.CategoryTransport, Keywords: []string{"uber", "lyft"}},
	{Category: core.CategorySoftware, Keywords: []string{"aws", "azure"}},
}

// KeywordClassifier implements Classifier with case-insensitive substring
// rules.
type KeywordClassifier struct {
	rules []Rule
	// strict reports a classification error when no rule matches,
	// otherwise the catch-all Other category is returned.
	strict bool
}

func NewKeywordClassifier(rules []Rule, strict bool) *KeywordClassifier {
	normalized := make([]Rule, len(rules))
	for i, r := range rules {
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		normalized[i] = Rule{Category: r.Category, Keywords: kws}
	}
	return &KeywordClassifier{rules: normalized, strict: strict}
}

// NewDefaultClassifier returns the keyword classifier with DefaultRules.
func NewDefaultClassifier(strict bool) *KeywordClassifier {
	return NewKeywordClassifier(DefaultRules, strict)
}

func (c *KeywordClassifier) Classify(ctx context.Context, description string) (core.Category, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text := strings.ToLower(description)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return r.Category, nil
			}
		}
	}

	if c.strict {
		return "", fmt.Errorf("%w: %q", core.ErrNoCategory, description)
	}
	return core.CategoryOther, nil
}
