package backend

import (
	"encoding/json"
	"fmt"

	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/itchyny/gojq"
)

// EvalJQ runs a jq expression against input and reports whether its first
// result is truthy. input must already be JSON-shaped (see Normalize).
func EvalJQ(expr string, input interface{}) (bool, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return false, fmt.Errorf("failed to compile jq expression %q: %w", expr, err)
	}

	iter := code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, fmt.Errorf("jq evaluation failed: %w", err)
	}
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	default:
		return true, nil
	}
}

// Normalize round-trips v through encoding/json so that gojq sees only
// maps, slices, strings, float64, bool and nil.
func Normalize(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Fingerprint hashes a payload for comparison with a step's expected
// fingerprint.
func Fingerprint(b []byte) string {
	return testcase.Hash(b)
}

// CheckFingerprint fails with an assertion when the step expects a
// fingerprint that differs from the payload's.
func CheckFingerprint(step *testcase.Step, payload []byte) error {
	if step == nil || step.ExpectedFingerprint == "" {
		return nil
	}
	got := Fingerprint(payload)
	if got != step.ExpectedFingerprint {
		return Failuref(FailureAssertion, "fingerprint mismatch: expected %s, got %s", step.ExpectedFingerprint, got)
	}
	return nil
}
