package testutil

import "testing"

// Given, When, Then and And name nested subtests after the step they
// describe, so `go test -v` reads as the scenario:
//
//	Given a license issue above the fee threshold
//	  When the supervisor level passes its deadline
//	    Then the workflow is rejected
func Given(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Given", desc, fn) }

func When(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "When", desc, fn) }

func Then(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Then", desc, fn) }

func And(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "And", desc, fn) }

// step stops the scenario at the first failing step; later steps depend on
// the state earlier ones built.
func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	if !t.Run(keyword+" "+desc, fn) {
		t.FailNow()
	}
}
