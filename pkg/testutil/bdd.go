package testutil

import "testing"

// Scenario steps run as nested subtests named after the step, e.g.
// "Given_a_CREATED_receipt/When_confirm_is_replayed/Then_it_stays_APPROVED".

func Given(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Given", desc, fn) }

func When(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "When", desc, fn) }

func Then(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Then", desc, fn) }

// And continues the previous step kind.
func And(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "And", desc, fn) }

func step(t *testing.T, kind, desc string, fn func(t *testing.T)) {
	t.Helper()
	if !t.Run(kind+" "+desc, fn) {
		t.Logf("%s step failed: %s", kind, desc)
	}
}
