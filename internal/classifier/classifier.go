// Package classifier implements the Classifier (§4.8): assigning each
// Inbox message to one of four smart-tab categories, and the "move to
// category" learning rule that promotes a one-off user action into a
// standing classification rule plus a bulk Inbox reassignment.
//
// No direct teacher analog exists (the teacher has no inbox
// categorization feature); the "ordered checks, first match wins" shape
// mirrors the pack's general rule-evaluation idiom (e.g. madmail's
// internal/check modules), applied to this spec's own category data.
package classifier

import (
	"strings"

	"github.com/highkick05/mailboy-sub000/internal/model"
)

// defaultKeywords lists the builtin substrings checked in order
// promotions -> social -> updates when no user rule matches (§4.8).
var defaultKeywords = []struct {
	category model.Category
	words    []string
}{
	{model.CategoryPromotions, []string{
		"unsubscribe", "opt-out", "% off", "sale", "discount", "coupon",
		"newsletter", "no-reply", "promo", "limited time", "clearance",
	}},
	{model.CategorySocial, []string{
		"facebook", "twitter", "linkedin", "instagram", "pinterest",
		"tiktok", "youtube", "friend request", "follower",
	}},
	{model.CategoryUpdates, []string{
		"receipt", "invoice", "order", "confirmation", "tracking",
		"shipped", "delivered", "security alert", "verify", "appointment",
		"booking",
	}},
}

// Input is the subset of a message's envelope the classifier inspects.
type Input struct {
	From    string
	Subject string
	Content string
}

// Classify assigns a category to msg given the user's rules, evaluated in
// priority order: user rules dominate; then the default keyword sets in
// promotions -> social -> updates order; else primary (§4.8).
func Classify(in Input, rules []model.ClassificationRule) model.Category {
	from := strings.ToLower(in.From)
	subject := strings.ToLower(in.Subject)
	content := strings.ToLower(in.Content)

	for _, r := range rules {
		value := strings.ToLower(r.Value)
		switch r.Type {
		case model.RuleFrom:
			if strings.Contains(from, value) {
				return r.Category
			}
		case model.RuleSubject:
			if strings.Contains(subject, value) {
				return r.Category
			}
		case model.RuleContent:
			if strings.Contains(content, value) {
				return r.Category
			}
		}
	}

	haystacks := []string{from, subject, content}
	for _, set := range defaultKeywords {
		for _, w := range set.words {
			for _, h := range haystacks {
				if strings.Contains(h, w) {
					return set.category
				}
			}
		}
	}

	return model.CategoryPrimary
}

// genericProviders lists sender domains too broad to learn a domain-wide
// rule from; a move on one of these addresses learns the full address
// instead (§4.8 "same sender-domain (or same full address if the domain is
// a generic provider)").
var genericProviders = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "outlook.com": true,
	"hotmail.com": true, "icloud.com": true, "aol.com": true,
	"protonmail.com": true, "proton.me": true,
}

// LearnTarget returns the rule value (and whether it's a domain match) that
// a "move to category X" action on fromAddr should learn (§4.8).
func LearnTarget(fromAddr string) (value string, isDomain bool) {
	addr := strings.ToLower(fromAddr)
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr, false
	}
	domain := addr[at+1:]
	if genericProviders[domain] {
		return addr, false
	}
	return domain, true
}
