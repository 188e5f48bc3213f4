package testutil

import "fmt"

// CycleTokens returns n sequential cycle tokens of the form
// "cycle-000001", "cycle-000002", and so on.
//
// Fed to loop.NewFixedGenerator they give scripted runs a stable token
// per cycle, which keeps audit trails byte-identical across runs. The
// same scenario with the same tokens produces the same golden file.
func CycleTokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("cycle-%06d", i+1)
	}
	return out
}
