// Package tool resolves the ordered set of tools available to a session
// for a given (workspace, runtime, model, mode) combination, applies
// allow/deny policy, and validates tool input against each tool's JSON
// schema before dispatch.
package tool

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mux-run/mux/backend/internal/message"
)

// Name identifies a built-in or MCP-provided tool.
type Name string

// Built-in tool names.
const (
	Bash                Name = "bash"
	FileRead            Name = "file_read"
	FileEditInsert      Name = "file_edit_insert"
	FileEditReplaceLines Name = "file_edit_replace_lines"
	ProposePlan         Name = "propose_plan"
	AskUserQuestion     Name = "ask_user_question"
	Task                Name = "task"
	WebSearch           Name = "web_search"
	CodeExecution       Name = "code_execution"
)

// Handler executes a tool call given its raw JSON input and returns the
// raw JSON result fed back to the provider.
type Handler func(ctx context.Context, input []byte) ([]byte, error)

// Def describes one tool available to a session: its wire-level schema
// plus the handler that executes it.
type Def struct {
	Name        Name
	Description string
	InputSchema []byte // JSON schema, abstract/provider-agnostic
	Handler     Handler

	schema *jsonschema.Schema
}

// Validate parses input against Def's compiled JSON schema.
func (d *Def) Validate(input []byte) error {
	if d.schema == nil {
		return nil
	}
	var v any
	if err := jsonUnmarshal(input, &v); err != nil {
		return fmt.Errorf("tool %s: invalid input JSON: %w", d.Name, err)
	}
	if err := d.schema.Validate(v); err != nil {
		return fmt.Errorf("tool %s: input does not match schema: %w", d.Name, err)
	}
	return nil
}

// Policy is the allow/deny filter applied after resolution: if Allow is
// non-empty, only those names survive; any name in Deny is removed
// regardless.
type Policy struct {
	Allow []Name
	Deny  []Name
}

func (p Policy) apply(names []Name) []Name {
	deny := make(map[Name]bool, len(p.Deny))
	for _, n := range p.Deny {
		deny[n] = true
	}
	var allow map[Name]bool
	if len(p.Allow) > 0 {
		allow = make(map[Name]bool, len(p.Allow))
		for _, n := range p.Allow {
			allow[n] = true
		}
	}
	out := names[:0:0]
	for _, n := range names {
		if deny[n] {
			continue
		}
		if allow != nil && !allow[n] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ResolveParams is the input to Resolve.
type ResolveParams struct {
	Mode        message.Mode
	Policy      Policy
	MCPTools    []Def
	Subagents   []SubagentDescriptor
	WebSearchConfigured bool
	CodeExecutionMode   CodeExecutionMode // "" disables code_execution
	Builtins    map[Name]Handler // injected handlers for built-ins so tool stays runtime-agnostic
}

// CodeExecutionMode selects how the code_execution tool composes with the
// rest of the registry.
type CodeExecutionMode string

// Code execution modes.
const (
	CodeExecutionSupplement CodeExecutionMode = "supplement" // alongside other tools
	CodeExecutionExclusive  CodeExecutionMode = "exclusive"   // replaces bridgeable tools
)

// bridgeableByCodeExecution are built-ins that code_execution can subsume
// when running in exclusive mode (e.g. file/bash access folded into a
// sandboxed interpreter); non-bridgeable tools like ask_user_question and
// task remain regardless of mode.
var bridgeableByCodeExecution = map[Name]bool{
	Bash:                 true,
	FileRead:             true,
	FileEditInsert:       true,
	FileEditReplaceLines: true,
}

// SubagentDescriptor is one entry surfaced by the task tool's dynamic
// subagent list, discovered from .mux/agents/*.yaml.
type SubagentDescriptor struct {
	Name        string
	Description string
	Runnable    bool
}

// Registry is the ordered, policy-filtered set of tools for one session.
type Registry struct {
	order []Name
	defs  map[Name]*Def
}

// Resolve builds a Registry for the given parameters: built-ins appropriate
// to mode, optional web_search and code_execution, MCP tools, then policy
// filtering.
func Resolve(p ResolveParams) (*Registry, error) {
	r := &Registry{defs: make(map[Name]*Def)}

	add := func(d Def) {
		r.order = append(r.order, d.Name)
		r.defs[d.Name] = &d
	}

	exclusive := p.CodeExecutionMode == CodeExecutionExclusive

	if !exclusive || !bridgeableByCodeExecution[Bash] {
		add(Def{Name: Bash, Description: "Run a bash command in the workspace.", Handler: p.Builtins[Bash]})
	}
	if !exclusive || !bridgeableByCodeExecution[FileRead] {
		add(Def{Name: FileRead, Description: "Read a file from the workspace.", Handler: p.Builtins[FileRead]})
	}
	if !exclusive || !bridgeableByCodeExecution[FileEditInsert] {
		add(Def{Name: FileEditInsert, Description: "Insert lines into a file.", Handler: p.Builtins[FileEditInsert]})
	}
	if !exclusive || !bridgeableByCodeExecution[FileEditReplaceLines] {
		add(Def{Name: FileEditReplaceLines, Description: "Replace a line range in a file.", Handler: p.Builtins[FileEditReplaceLines]})
	}

	if p.Mode == message.ModePlan {
		add(Def{Name: ProposePlan, Description: "Propose a plan for user approval before executing.", Handler: p.Builtins[ProposePlan]})
		add(Def{Name: AskUserQuestion, Description: "Ask the user a clarifying question.", Handler: p.Builtins[AskUserQuestion]})
	}

	add(Def{Name: Task, Description: taskDescription(p.Subagents), Handler: p.Builtins[Task]})

	if p.WebSearchConfigured {
		add(Def{Name: WebSearch, Description: "Search the web.", Handler: p.Builtins[WebSearch]})
	}
	if p.CodeExecutionMode != "" {
		add(Def{Name: CodeExecution, Description: "Execute code in a sandboxed interpreter.", Handler: p.Builtins[CodeExecution]})
	}

	for _, mcp := range p.MCPTools {
		add(mcp)
	}

	r.order = p.Policy.apply(r.order)
	filtered := make(map[Name]*Def, len(r.order))
	for _, n := range r.order {
		filtered[n] = r.defs[n]
	}
	r.defs = filtered

	for _, d := range r.defs {
		if len(d.InputSchema) == 0 {
			continue
		}
		compiled, err := compileSchema(d.Name, d.InputSchema)
		if err != nil {
			return nil, err
		}
		d.schema = compiled
	}
	return r, nil
}

func taskDescription(subagents []SubagentDescriptor) string {
	desc := "Dispatch a task to a subagent. Available subagents:"
	for _, s := range subagents {
		if !s.Runnable {
			continue
		}
		desc += fmt.Sprintf("\n- %s: %s", s.Name, s.Description)
	}
	return desc
}

func compileSchema(name Name, schema []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := "mux://tool/" + string(name) + ".json"
	var doc any
	if err := jsonUnmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("tool %s: parsing schema: %w", name, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool %s: adding schema resource: %w", name, err)
	}
	return c.Compile(url)
}

// Ordered returns the registry's tool definitions in resolution order.
func (r *Registry) Ordered() []*Def {
	out := make([]*Def, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.defs[n])
	}
	return out
}

// Get returns the Def for name, if present after policy filtering.
func (r *Registry) Get(name Name) (*Def, bool) {
	d, ok := r.defs[name]
	return d, ok
}
