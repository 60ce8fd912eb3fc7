// Package geodex provides semantic search over geospatial dataset catalogs.
//
// A catalog (JSON or parquet) is loaded into an in-process engine that embeds
// four metadata fields per dataset — title, id, description, keywords — and
// ranks datasets by the weighted mean of per-field cosine similarities against
// the query vector. Built indexes are fingerprinted and cached on disk, so a
// restart with an unchanged catalog skips the embedding pass entirely.
//
//	client, _ := geodex.New(
//	    geodex.WithCacheDir("saved_indexes"),
//	    geodex.WithWeights(map[string]float64{"title": 0.5, "description": 0.5}),
//	)
//	defer client.Close()
//
//	_ = client.LoadDatasets(ctx, "datasets.json")
//	matches, _ := client.Search(ctx, "monthly precipitation", 10)
//
// By default queries are embedded locally with a deterministic feature-hashing
// model; WithOpenAI switches the engine to the OpenAI embeddings API with
// per-tier models (small, medium, large).
package geodex
