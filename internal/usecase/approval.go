package usecase

import "strings"

// ApprovalPolicy auto-decides tool approvals from configured allow and deny
// lists. A tool on neither list stays undecided and waits for the user.
// Deny wins when a tool appears on both lists.
type ApprovalPolicy struct {
	allow map[string]bool
	deny  map[string]bool
}

// NewApprovalPolicy builds a policy from tool name lists. Matching is
// case-insensitive.
func NewApprovalPolicy(allow, deny []string) *ApprovalPolicy {
	p := &ApprovalPolicy{
		allow: make(map[string]bool, len(allow)),
		deny:  make(map[string]bool, len(deny)),
	}
	for _, name := range allow {
		p.allow[strings.ToLower(name)] = true
	}
	for _, name := range deny {
		p.deny[strings.ToLower(name)] = true
	}
	return p
}

// Decide returns the automatic decision for toolName. decided is false when
// the policy has no opinion and the user must be asked.
func (p *ApprovalPolicy) Decide(toolName string) (approved, decided bool) {
	if p == nil {
		return false, false
	}
	name := strings.ToLower(toolName)
	if p.deny[name] {
		return false, true
	}
	if p.allow[name] {
		return true, true
	}
	return false, false
}
