package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in admission policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		resourceLimitsPolicy(),
		backendAllowlistPolicy(),
		batchSizePolicy(),
	}
}

// resourceLimitsPolicy bounds the quantum resources a single run may claim.
func resourceLimitsPolicy() Policy {
	return Policy{
		Name:        "resource-limits",
		Description: "Caps per-run qubit and measurement budgets",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"limits", "quantum"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package qembed.policies.limits

import rego.v1

max_qubits := 32

max_shots := 1000000

deny contains violation if {
	input.request.max_qubits > max_qubits
	violation := {
		"message": sprintf("run requests %d qubits, exceeding the %d-qubit ceiling", [input.request.max_qubits, max_qubits]),
		"severity": "error",
	}
}

deny contains violation if {
	input.request.shots > max_shots
	violation := {
		"message": sprintf("run requests %d shots, exceeding the %d-shot budget", [input.request.shots, max_shots]),
		"severity": "error",
	}
}
`,
	}
}

// backendAllowlistPolicy restricts runs to the known backend families.
func backendAllowlistPolicy() Policy {
	return Policy{
		Name:        "backend-allowlist",
		Description: "Rejects runs targeting unknown solver backend families",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"backends"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package qembed.policies.backends

import rego.v1

allowed_prefixes := ["classical/", "vqe/", "wasm:", "remote:"]

backend_allowed if {
	some prefix in allowed_prefixes
	startswith(input.request.backend, prefix)
}

deny contains violation if {
	input.request.backend != ""
	not backend_allowed
	violation := {
		"message": sprintf("backend %q is not in the allowed families", [input.request.backend]),
		"severity": "error",
	}
}
`,
	}
}

// batchSizePolicy flags unusually large fragment batches without blocking
// them.
func batchSizePolicy() Policy {
	return Policy{
		Name:        "batch-size",
		Description: "Warns when a decomposition produces a very large fragment batch",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"limits"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package qembed.policies.batch

import rego.v1

warn_threshold := 128

deny contains violation if {
	input.request.fragments > warn_threshold
	violation := {
		"message": sprintf("run spans %d fragments; expect long queue times", [input.request.fragments]),
		"severity": "warning",
	}
}
`,
	}
}
