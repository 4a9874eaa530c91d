package logging

// Standardized attribute keys. Components attach these so log lines stay
// greppable across the batch lifecycle.
const (
	FieldComponent = "component"

	FieldBatchID = "batch_id"

	FieldArticleID = "article_id"

	FieldCorrelationID = "correlation_id"

	FieldAspect = "aspect"
)
