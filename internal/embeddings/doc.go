// Package embeddings generates vector embeddings through a TEI-compatible
// HTTP endpoint.
//
// Failures carry retry semantics: rate limits and provider outages are
// transient, input rejections are permanent. Callers branch on
// document.Transient and document.Permanent rather than status codes.
//
// Every provider reports a ModelVersion. Vectors from different model
// versions are never comparable; the version is stamped on each chunk at
// index time and checked again at query time.
package embeddings
