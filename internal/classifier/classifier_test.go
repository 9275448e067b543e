package classifier_test

import (
	"testing"

	"github.com/highkick05/mailboy-sub000/internal/classifier"
	"github.com/highkick05/mailboy-sub000/internal/model"
)

func TestUserRuleDominates(t *testing.T) {
	rules := []model.ClassificationRule{
		{Category: model.CategoryUpdates, Type: model.RuleFrom, Value: "acme.com"},
	}
	got := classifier.Classify(classifier.Input{From: "sale@acme.com", Subject: "50% off sale"}, rules)
	if got != model.CategoryUpdates {
		t.Fatalf("got %s, want updates (user rule should dominate default keywords)", got)
	}
}

func TestDefaultOrderPromotionsBeforeSocial(t *testing.T) {
	got := classifier.Classify(classifier.Input{Subject: "unsubscribe from our facebook newsletter"}, nil)
	if got != model.CategoryPromotions {
		t.Fatalf("got %s, want promotions (checked before social)", got)
	}
}

func TestFallbackPrimary(t *testing.T) {
	got := classifier.Classify(classifier.Input{From: "friend@example.com", Subject: "lunch tomorrow?"}, nil)
	if got != model.CategoryPrimary {
		t.Fatalf("got %s, want primary", got)
	}
}

func TestLearnTargetGenericProvider(t *testing.T) {
	value, isDomain := classifier.LearnTarget("someone@gmail.com")
	if isDomain || value != "someone@gmail.com" {
		t.Fatalf("got (%s, %v), want full address for a generic provider", value, isDomain)
	}
}

func TestLearnTargetCustomDomain(t *testing.T) {
	value, isDomain := classifier.LearnTarget("noreply@acme.com")
	if !isDomain || value != "acme.com" {
		t.Fatalf("got (%s, %v), want domain acme.com", value, isDomain)
	}
}
