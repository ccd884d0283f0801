// Package document defines the core data model shared across corpusd:
// documents, chunks, jobs, the processing state machine, and the error
// taxonomy that drives retry decisions.
//
// A document moves pending -> processing -> completed or failed. A failed
// document re-enters processing while attempts remain. Transitions outside
// the state machine are rejected.
package document
