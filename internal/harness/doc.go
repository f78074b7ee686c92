// Package harness runs versioning scenarios against a real engine and
// checks the resulting trace.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: retire_description
//	description: "Retirement is visible at later times only"
//	paths:
//	  - {id: 1, name: main}
//	flow:
//	  - commit:
//	      session: {author: 1, module: 1, path: 1}
//	      create:
//	        - {ref: heart, kind: concept, fields: {defined: false}}
//	        - ref: name
//	          kind: description
//	          fields: {concept: "ref:heart", text: "Heart"}
//	  - commit:
//	      session: {author: 1, module: 1, path: 1}
//	      retire: [name]
//	  - resolve:
//	      ref: name
//	      view: {positions: [{path: 1, time: "100"}]}
//	    expect: {outcome: single, status: active}
//	assertions:
//	  - {type: trace_count, step: commit, count: 2}
//	  - type: final_version
//	    ref: name
//	    expect: {status: inactive}
//
// Refs name the components a scenario creates. A field value "ref:<name>"
// is replaced with that component's uuid, and resolved uuids are written
// back as refs, so traces never contain generated ids. The path graph is
// given inline or, with paths_file, as a CUE file relative to the scenario.
//
// # Assertion Types
//
//   - trace_contains: some step of the given type, ref and outcome ran
//   - trace_count: exactly count such steps ran
//   - final_version: the ref resolves as expected once the flow is done
//
// # Deterministic Testing
//
// Every run starts from an empty in-memory engine with a deterministic
// clock (100, 200, 300, ...) and sequential uuids. Traces are encoded as
// canonical JSON and compared against golden files with goldie.
package harness
