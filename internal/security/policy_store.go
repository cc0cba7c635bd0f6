package security

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PolicyStore holds the named security policies. Rule lists stay sorted by
// descending priority across every mutation; evaluation reads work on
// snapshots so a concurrent rule addition never tears an iteration.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	order    []string
}

// NewPolicyStore returns a store seeded with the platform default policies.
func NewPolicyStore() *PolicyStore {
	s := &PolicyStore{policies: make(map[string]*Policy)}
	for _, p := range defaultPolicies() {
		s.policies[p.Name] = p
		s.order = append(s.order, p.Name)
	}
	return s
}

func defaultPolicies() []*Policy {
	now := time.Now()
	return []*Policy{
		{
			Name:   "problem_management",
			Active: true,
			Rules: sortRules([]AccessRule{
				{
					Resource: "problem",
					Action:   "create",
					Roles:    RoleSet(RoleTeacher),
					Priority: 100,
				},
				{
					Resource:  "problem",
					Action:    "update",
					Roles:     RoleSet(RoleTeacher),
					Condition: OwnerMatchCondition("teacherId"),
					Priority:  90,
				},
				{
					Resource:  "problem",
					Action:    "delete",
					Roles:     RoleSet(RoleTeacher),
					Condition: OwnerMatchCondition("teacherId"),
					Priority:  90,
				},
			}),
			CreatedBy: "system",
			CreatedAt: now,
		},
		{
			Name:   "assignment_visibility",
			Active: true,
			Rules: sortRules([]AccessRule{
				{
					Resource:  "problem_set",
					Action:    "read",
					Roles:     RoleSet(RoleStudent),
					Condition: ActiveResourceCondition("isActive"),
					Priority:  50,
				},
			}),
			CreatedBy: "system",
			CreatedAt: now,
		},
	}
}

func sortRules(rules []AccessRule) []AccessRule {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules
}

// AddRule appends a rule to the named policy and restores the priority
// ordering. The policy is created, active, if it does not exist yet.
func (s *PolicyStore) AddRule(policyName, createdBy string, rule AccessRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[policyName]
	if !ok {
		p = &Policy{
			Name:      policyName,
			Active:    true,
			CreatedBy: createdBy,
			CreatedAt: time.Now(),
		}
		s.policies[policyName] = p
		s.order = append(s.order, policyName)
	}
	p.Rules = sortRules(append(p.Rules, rule))
}

// Replace swaps the named policy's rule list wholesale, keeping the sorted
// invariant.
func (s *PolicyStore) Replace(policyName, createdBy string, rules []AccessRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[policyName]
	if !ok {
		p = &Policy{
			Name:      policyName,
			Active:    true,
			CreatedBy: createdBy,
			CreatedAt: time.Now(),
		}
		s.policies[policyName] = p
		s.order = append(s.order, policyName)
	}
	copied := make([]AccessRule, len(rules))
	copy(copied, rules)
	p.Rules = sortRules(copied)
}

// Deactivate marks the named policy inactive. Policies are never deleted.
func (s *PolicyStore) Deactivate(policyName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[policyName]
	if !ok {
		return fmt.Errorf("policy %q not found", policyName)
	}
	p.Active = false
	return nil
}

// Activate re-enables a previously deactivated policy.
func (s *PolicyStore) Activate(policyName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[policyName]
	if !ok {
		return fmt.Errorf("policy %q not found", policyName)
	}
	p.Active = true
	return nil
}

// Get returns a copy of the named policy.
func (s *PolicyStore) Get(policyName string) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[policyName]
	if !ok {
		return Policy{}, false
	}
	return snapshotPolicy(p), true
}

// List returns copies of every policy in registration order.
func (s *PolicyStore) List() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Policy, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, snapshotPolicy(s.policies[name]))
	}
	return out
}

// ActiveRules returns, policy by policy in registration order, the rules the
// engine should evaluate. Each policy's rules are already priority-sorted.
func (s *PolicyStore) ActiveRules() []PolicyRules {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PolicyRules, 0, len(s.order))
	for _, name := range s.order {
		p := s.policies[name]
		if !p.Active {
			continue
		}
		rules := make([]AccessRule, len(p.Rules))
		copy(rules, p.Rules)
		out = append(out, PolicyRules{Policy: p.Name, Rules: rules})
	}
	return out
}

// PolicyRules pairs a policy name with its evaluation-ready rule snapshot.
type PolicyRules struct {
	Policy string
	Rules  []AccessRule
}

func snapshotPolicy(p *Policy) Policy {
	out := *p
	out.Rules = make([]AccessRule, len(p.Rules))
	copy(out.Rules, p.Rules)
	return out
}
