// Package vectorstore defines the partition-scoped vector storage contract
// and its implementations.
//
// Every operation is scoped to exactly one owner partition, resolved
// fail-closed from the request context (see owner.go). The partition is the
// system's primary isolation mechanism: implementations map each owner to a
// dedicated collection, and additionally stamp the owner onto every point's
// payload so that cross-partition reads can be detected and aborted even if
// the underlying store misroutes a query.
package vectorstore
