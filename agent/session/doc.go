// Copyright (c) Perspectra Authors.
// Licensed under the MIT License.

/*
Package session hosts many boardroom conversations in one process.

A boardroom.Engine runs exactly one conversation. Manager maps
conversation IDs to Session values, each owning one engine, and loads a
conversation from the persistence store on first access (concurrent
loads of the same ID are collapsed with singleflight).

Each Session registers the engine observers: emitted messages are
persisted with AppendMessage and published to the Hub, state snapshots
are cached in the optional Redis StateCache and published too. Hub
subscribers get buffered channels; a slow subscriber loses events
instead of stalling the engine.

Sessions that are not running, have no subscribers, and were idle for
the configured timeout are unloaded by the reaper started with
StartReaper.
*/
package session
