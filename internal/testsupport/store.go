package testsupport

import (
	"context"
	"fmt"
	"testing"

	"driftwatch/internal/articles"
	"driftwatch/internal/config"
)

// MustOpenStore opens an articles.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *articles.Store {
	t.Helper()

	store, err := articles.Open(cfg)
	if err != nil {
		t.Fatalf("articles.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewArticle inserts an unanalyzed article for tests.
func NewArticle(t testing.TB, store *articles.Store, title, content string) *articles.Article {
	t.Helper()

	article, err := store.Insert(context.Background(), "test-feed", title, content)
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return article
}

// SeedArticles inserts n unanalyzed articles and returns their ids.
func SeedArticles(t testing.TB, store *articles.Store, n int) []int64 {
	t.Helper()

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		article := NewArticle(t, store,
			fmt.Sprintf("article %d", i),
			fmt.Sprintf("body of article %d", i),
		)
		ids = append(ids, article.ID)
	}
	return ids
}
