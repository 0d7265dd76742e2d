// Package security provides input limits and sanitization for the logqueue packages.
//
// This package includes:
//   - Upload and field size limits
//   - File name sanitization for object-store paths
//   - Error message sanitization before persistence
//   - Clamping helpers for retry attempts and worker concurrency
//
// Most users should import the root package github.com/jdziat/logqueue
// which re-exports the limits and helpers.
package security
