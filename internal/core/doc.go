// Package core holds the enrolment snapshot domain: the canonical row model,
// snapshot roles, analysis modes and the upload batch pipeline.
//
// It is independent of any transport or storage engine. Web handlers, the
// server entry point and tests all drive it through [Service] and the [Store]
// interface.
//
// # Snapshots
//
// Three snapshot roles exist, each backed by one table:
//
//   - CURRENT (current_data): the most recent extract.
//   - PREVIOUS (previous_data): the prior academic year. Extended equity
//     fields are not stored here.
//   - BEFORE_CENSUS (before_census_data): the extract taken before the census
//     date of the current year.
//
// A role always holds exactly one generation. Uploading into a role replaces
// its contents wholesale.
//
// # Upload Pipeline
//
// A batch upload flows through four stages:
//
//  1. [AnalysisMode.ValidateFileCount] checks the number of files.
//  2. [Normalizer.Normalize] maps each raw [Table] onto [Row] values using the
//     alias table in aliases.yaml.
//  3. [Classify] assigns every normalized file to a role.
//  4. [Store.Replace] swaps each role's generation.
//
// Every file is normalized before any role is written, so a schema failure
// leaves all snapshots untouched.
//
// # Error Handling
//
// Typed errors ([SchemaError], [FileCountError], [UnknownModeError],
// [UnknownRoleError]) are matched with errors.As. [MapError] turns any error
// into a user-facing message with a support code:
//
//   - SNAP001-SNAP004: snapshot pipeline errors
//   - RPT001-RPT002: report parameter errors
//   - DB001-DB004: database connectivity
//   - FILE001-FILE007: file decoding
//   - UPL001-UPL003: upload concurrency and timeouts
package core
