package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

func TestMatchingFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "matching",
		ScenarioInitializer: initializeMatchingScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

type matchingWorld struct {
	fixture *matcherFixture
	result  *domain.MatchResult
	items   map[string]string
}

func slug(name string) string {
	return strings.ReplaceAll(domain.NormalizeName(name), " ", "-")
}

func (w *matchingWorld) catalogContainsWithUPC(ctx context.Context, name, upc string) error {
	return w.fixture.catalog.Create(ctx, &domain.CanonicalProduct{
		ID:             slug(name),
		UPC:            domain.NormalizeUPC(upc),
		Name:           name,
		NormalizedName: domain.NormalizeName(name),
	})
}

func (w *matchingWorld) catalogScores(ctx context.Context, name string, similarity float64) error {
	product := &domain.CanonicalProduct{
		ID:             slug(name),
		Name:           name,
		NormalizedName: domain.NormalizeName(name),
	}
	if err := w.fixture.catalog.Create(ctx, product); err != nil {
		return err
	}
	w.fixture.catalog.SearchFn = func(domain.CatalogQuery) ([]*domain.MatchCandidate, error) {
		return []*domain.MatchCandidate{{Product: product, Similarity: similarity}}, nil
	}
	return nil
}

func (w *matchingWorld) matchWithUPC(ctx context.Context, name, upc string) error {
	result, err := w.fixture.matcher.FindCanonicalProductMatch(ctx, domain.ProductInput{
		ProductID: "adhoc",
		Name:      name,
		UPC:       upc,
	})
	w.result = result
	return err
}

func (w *matchingWorld) match(ctx context.Context, name string) error {
	return w.matchWithUPC(ctx, name, "")
}

func (w *matchingWorld) matchTypeIs(want string) error {
	if string(w.result.MatchType) != want {
		return fmt.Errorf("expected match type %q, got %q", want, w.result.MatchType)
	}
	return nil
}

func (w *matchingWorld) confidenceIs(want float64) error {
	if w.result.Confidence != want {
		return fmt.Errorf("expected confidence %v, got %v", want, w.result.Confidence)
	}
	return nil
}

func (w *matchingWorld) reviewRequiredIs(want string) error {
	if fmt.Sprint(w.result.RequiresReview) != want {
		return fmt.Errorf("expected requires review %s, got %v", want, w.result.RequiresReview)
	}
	return nil
}

func (w *matchingWorld) canonicalProductIs(want string) error {
	if w.result.CanonicalProductID != want {
		return fmt.Errorf("expected canonical product %q, got %q", want, w.result.CanonicalProductID)
	}
	return nil
}

func (w *matchingWorld) productQueued(ctx context.Context, productID, name string) error {
	item, err := w.fixture.matcher.Enqueue(ctx, domain.ProductInput{ProductID: productID, Name: name})
	if err != nil {
		return err
	}
	w.items[productID] = item.ID
	return nil
}

func (w *matchingWorld) queueProcessed(ctx context.Context) error {
	_, err := w.fixture.matcher.ProcessPendingQueue(ctx, 10)
	return err
}

func (w *matchingWorld) queueItem(ctx context.Context, productID string) (*domain.MatchQueueItem, error) {
	id, ok := w.items[productID]
	if !ok {
		return nil, fmt.Errorf("product %q was never queued", productID)
	}
	return w.fixture.queue.Get(ctx, id)
}

func (w *matchingWorld) queueItemStatusIs(ctx context.Context, productID, want string) error {
	item, err := w.queueItem(ctx, productID)
	if err != nil {
		return err
	}
	if string(item.Status) != want {
		return fmt.Errorf("expected status %q, got %q", want, item.Status)
	}
	return nil
}

func (w *matchingWorld) queueItemSuggests(ctx context.Context, productID, want string) error {
	item, err := w.queueItem(ctx, productID)
	if err != nil {
		return err
	}
	if item.SuggestedCanonicalID != want {
		return fmt.Errorf("expected suggestion %q, got %q", want, item.SuggestedCanonicalID)
	}
	return nil
}

func (w *matchingWorld) productNotLinked(productID string) error {
	if linked := w.fixture.linker.LinkedTo(productID); linked != "" {
		return fmt.Errorf("expected %q to be unlinked, linked to %q", productID, linked)
	}
	return nil
}

func (w *matchingWorld) productLinkedTo(productID, want string) error {
	if linked := w.fixture.linker.LinkedTo(productID); linked != want {
		return fmt.Errorf("expected %q linked to %q, got %q", productID, want, linked)
	}
	return nil
}

func (w *matchingWorld) productLinkedToNew(ctx context.Context, productID string) error {
	linked := w.fixture.linker.LinkedTo(productID)
	if linked == "" || linked == "trek-marlin-7" {
		return fmt.Errorf("expected %q linked to a new canonical product, got %q", productID, linked)
	}
	_, err := w.fixture.catalog.Get(ctx, linked)
	return err
}

func (w *matchingWorld) reviewerConfirms(ctx context.Context, productID string) error {
	_, err := w.fixture.matcher.ConfirmMatch(ctx, w.items[productID], "")
	return err
}

func (w *matchingWorld) reviewerRejects(ctx context.Context, productID string) error {
	_, err := w.fixture.matcher.RejectMatchAndCreateNew(ctx, w.items[productID])
	return err
}

func initializeMatchingScenario(sc *godog.ScenarioContext) {
	w := &matchingWorld{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		w.fixture = newMatcherFixture()
		w.result = nil
		w.items = make(map[string]string)
		return ctx, nil
	})

	sc.Step(`^the catalog contains "([^"]*)" with UPC "([^"]*)"$`, w.catalogContainsWithUPC)
	sc.Step(`^the catalog scores "([^"]*)" at (\d+(?:\.\d+)?)$`, w.catalogScores)
	sc.Step(`^a product named "([^"]*)" with UPC "([^"]*)" is matched$`, w.matchWithUPC)
	sc.Step(`^a product named "([^"]*)" is matched$`, w.match)
	sc.Step(`^the match type is "([^"]*)"$`, w.matchTypeIs)
	sc.Step(`^the confidence is (\d+(?:\.\d+)?)$`, w.confidenceIs)
	sc.Step(`^review required is "(true|false)"$`, w.reviewRequiredIs)
	sc.Step(`^the canonical product is "([^"]*)"$`, w.canonicalProductIs)
	sc.Step(`^a product "([^"]*)" named "([^"]*)" is queued$`, w.productQueued)
	sc.Step(`^the pending queue is processed$`, w.queueProcessed)
	sc.Step(`^the queue item for "([^"]*)" is "([^"]*)"$`, w.queueItemStatusIs)
	sc.Step(`^the queue item for "([^"]*)" suggests "([^"]*)"$`, w.queueItemSuggests)
	sc.Step(`^product "([^"]*)" is not linked$`, w.productNotLinked)
	sc.Step(`^product "([^"]*)" is linked to "([^"]*)"$`, w.productLinkedTo)
	sc.Step(`^product "([^"]*)" is linked to a new canonical product$`, w.productLinkedToNew)
	sc.Step(`^the reviewer confirms the suggestion for "([^"]*)"$`, w.reviewerConfirms)
	sc.Step(`^the reviewer rejects the suggestion for "([^"]*)"$`, w.reviewerRejects)
}
