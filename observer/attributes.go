package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for embedding and search spans and metrics.
var (
	AttrEmbedModel      = attribute.Key("embed.model")
	AttrEmbedProvider   = attribute.Key("embed.provider")
	AttrEmbedTextCount  = attribute.Key("embed.text_count")
	AttrEmbedDimensions = attribute.Key("embed.dimensions")

	AttrSearchMode    = attribute.Key("search.mode")
	AttrSearchLimit   = attribute.Key("search.limit")
	AttrSearchResults = attribute.Key("search.results")

	AttrStatus = attribute.Key("status")
)
