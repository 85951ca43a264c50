// Package policy provides Open Policy Agent (OPA) admission control for
// embedding runs.
//
// Every run passes through the policy engine before any fragment solve is
// dispatched. Policies are written in Rego; a policy's deny set carries the
// violations, and any violation with error or critical severity blocks the
// run.
//
// Creating an engine and admitting a run:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = eng.Admit(ctx, embedding.AdmissionRequest{
//	    RunID:     runID,
//	    Method:    "atom-partition",
//	    Backend:   "vqe/statevector/uccsd",
//	    Fragments: 12,
//	    MaxQubits: 8,
//	    Shots:     4096,
//	})
//
// Built-in policies:
//
//  1. resource-limits - Caps per-run qubit and shot budgets
//  2. backend-allowlist - Rejects unknown solver backend families
//  3. batch-size - Warns on very large fragment batches
//
// Custom policies can be written in Rego and loaded from files or
// directories; the loader also supports hot reload via filesystem watching:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, eng.ReplacePolicies)
//
// A custom policy sees the admission request under input.request:
//
//	package custom.policies.shots
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.request.shots > 65536
//	    violation := {
//	        "message": "shot budget exceeds the site limit",
//	        "severity": "error",
//	    }
//	}
package policy
