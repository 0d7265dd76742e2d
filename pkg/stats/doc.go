// Package stats reduces per-job statistics records into ranked views.
//
// Engine.Single summarizes one record and zero-fills every recognized log
// level, so a job without a record still renders a full level list.
// Engine.Many folds any number of records; only levels actually observed
// appear in its level list. Ranking and truncation run once after the fold,
// so the result does not depend on how the records were grouped.
//
// Records arrive as loosely typed JSON. DecodeRecord validates them before
// they reach the engine.
package stats
