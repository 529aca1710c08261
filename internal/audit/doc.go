// Package audit records election events in a hash-chained, append-only ledger.
//
// The chain begins with a well-known genesis entry whose Hash equals GenesisHash
// (64 hex zeros). Every subsequent entry records the SHA-256 of its predecessor,
// making any tampering detectable via Verify.
//
// Callers never write to a Ledger directly. They hand events to a Recorder,
// which queues them and lets a single worker fan each one out to its sinks
// (LedgerSink, KafkaSink). Recording never blocks and never fails the caller;
// events that do not fit in the queue are dropped and logged.
package audit
