/*
Package speaker implements the default rule-based speaker policy.

The policy opens with the fast thinker, never repeats the previous
autonomous speaker, forces the moderator at a fixed cadence and after
messages flagged by a ClaimDetector, and keeps the devil's advocate
strictly less frequent than either thinker. Weighted choices use a
seeded FNV hash of the conversation shape, so selection is reproducible.
*/
package speaker
