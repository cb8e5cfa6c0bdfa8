// Package dataextract provides the job orchestration core for the
// DataExtract file-extraction service: a bounded, observable, cancellable
// stream of background extraction work with content-addressed result
// caching and per-identity rate limiting.
//
// DataExtract is designed as a library, not a framework. Import it,
// configure a backing store, register extractors, and submit work:
//
//	eng, err := engine.Build(dataextract.DefaultConfig(),
//	    engine.WithStore(redisStore),
//	)
//
// # Architecture
//
// Four subsystems share one backing store (see the store package):
// the content cache (package cache), the sliding-window rate limiter
// (package ratelimit), the job registry state machine (package job),
// and the dispatcher/worker pool (package worker). All cross-process
// mutations go through the store's atomic primitives; no cross-process
// lock is ever held for the duration of an extraction.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package dataextract
