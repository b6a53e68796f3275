// Package roles holds the closed catalog of specialist agent roles. The set
// is fixed at compile time; plans proposing anything else are rejected during
// validation.
package roles

import (
	"fmt"
	"sort"
	"strings"
)

// Role is an immutable description of one kind of agent.
type Role struct {
	Name         string
	SystemPrompt string
	// CanDelegate marks roles allowed to split their task into a nested plan.
	CanDelegate bool
	// NeedsTools marks roles whose prompt gets the gateway tool list bound.
	NeedsTools bool
	// ToolServers is the set of backend names this role may call.
	ToolServers map[string]bool
}

// AllowedServer reports whether the role may call the named backend.
func (r *Role) AllowedServer(backend string) bool {
	return r.ToolServers[backend]
}

var registry = map[string]*Role{
	"researcher": {
		Name: "researcher",
		SystemPrompt: "You are a research specialist. Gather accurate, current information " +
			"relevant to the task. Cite the source of every non-obvious fact. " +
			"Prefer primary sources and state clearly when information could not be found.",
		NeedsTools:  true,
		ToolServers: serverSet("websearch", "github", "memory"),
	},
	"analyzer": {
		Name: "analyzer",
		SystemPrompt: "You are an analysis specialist. Break the task down, weigh the " +
			"evidence you are given, and produce a clear, well-reasoned answer. " +
			"Be direct: if the task is simple, answer it simply.",
		NeedsTools:  true,
		ToolServers: serverSet("websearch", "python", "database", "memory"),
	},
	"planner": {
		Name: "planner",
		SystemPrompt: "You are a planning specialist. Turn the task into an ordered, " +
			"actionable plan with concrete steps and clear dependencies between them.",
		CanDelegate: true,
		NeedsTools:  true,
		ToolServers: serverSet("websearch", "memory"),
	},
	"writer": {
		Name: "writer",
		SystemPrompt: "You are a writing specialist. Produce polished, well-structured " +
			"prose from the material you are given. Match the register the task asks " +
			"for and do not invent facts beyond your inputs.",
		ToolServers: serverSet("filesystem", "memory"),
	},
	"coder": {
		Name: "coder",
		SystemPrompt: "You are a coding specialist. Write correct, idiomatic code for the " +
			"task, with brief notes on usage. Prefer running or inspecting code over " +
			"guessing about its behavior.",
		NeedsTools:  true,
		ToolServers: serverSet("filesystem", "github", "python", "database"),
	},
	"critic": {
		Name: "critic",
		SystemPrompt: "You are a critical reviewer. Examine the inputs for errors, gaps " +
			"and unsupported claims. List concrete problems and suggest fixes; do not " +
			"rewrite the work yourself.",
		ToolServers: serverSet("memory"),
	},
	"synthesizer": {
		Name: "synthesizer",
		SystemPrompt: "You are a synthesis specialist. Combine the outputs of the previous " +
			"agents into one coherent final answer. Resolve contradictions explicitly " +
			"and note any inputs that failed or are missing.",
		ToolServers: serverSet("memory"),
	},
	"coordinator": {
		Name: "coordinator",
		SystemPrompt: "You are a coordination specialist. Decide how a complex task should " +
			"be divided among specialists and integrate their results.",
		CanDelegate: true,
		NeedsTools:  true,
		ToolServers: serverSet("websearch", "filesystem", "github", "memory"),
	},
	"retriever": {
		Name: "retriever",
		SystemPrompt: "You are a retrieval specialist. Locate and return the stored " +
			"documents, files or records the task asks for, quoting them verbatim " +
			"where precision matters.",
		NeedsTools:  true,
		ToolServers: serverSet("filesystem", "database", "memory"),
	},
}

// Get returns the role for name. Lookup is case-insensitive.
func Get(name string) (*Role, bool) {
	r, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// Names returns all role names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders a one-line-per-role catalog for planning prompts.
func Describe() string {
	var b strings.Builder
	for _, name := range Names() {
		r := registry[name]
		flags := ""
		if r.CanDelegate {
			flags = " (can delegate)"
		}
		fmt.Fprintf(&b, "- %s%s: %s\n", name, flags, firstSentence(r.SystemPrompt))
	}
	return b.String()
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

func serverSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
