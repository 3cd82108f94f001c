// Package harness runs rover scenarios: scripted sequences of items, clock
// advances, scheduler ticks and inbox messages driven through the real
// dispatcher and scheduler, with assertions on the resulting trace and the
// final store contents.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	handlers:
//	  - name: echo
//	    type: keyword
//	    options: { pattern: "^echo$", response: "echo" }
//	setup:
//	  bans:
//	    - { kind: scope, subject: private, handler: echo }
//	  fail_replies:
//	    - { scope: locked, error: forbidden }
//	steps:
//	  - deliver: { id: c1, kind: comment, author: alice, scope: pics, body: echo }
//	  - advance: 16s
//	  - tick: true
//	  - message: { to: RoverBot, id: m1, author: alice, body: "ban /u/alice" }
//	assertions:
//	  - type: trace_contains
//	    event: dispatch
//	    handler: echo
//	    item: c1
//	    status: reacted
//	  - type: final_state
//	    table: dedup_records
//	    where: { handler: echo }
//	    count: 1
//
// # Assertion Types
//
//   - trace_contains: some trace event matches the given fields
//   - trace_order: the listed matches appear in order, gaps allowed
//   - trace_count: exactly count events match
//   - final_state: rows of a store table, filtered by where, match expect
//     and/or number count
//
// # Deterministic Testing
//
// Every scenario runs against a fresh SQLite file with a fake clock starting
// at testutil.Epoch, sequential statistics ids and a retry policy that never
// sleeps, so traces are identical across runs and can be compared with
// golden files under testdata/golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/echo_reply.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
