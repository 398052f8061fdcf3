package registry

import "fmt"

// ToolSummary is one entry of the list_tools / list_all_actions response.
type ToolSummary struct {
	Name         string `json:"name"`
	WriteAction  bool   `json:"write_action"`
	WriteAllowed bool   `json:"write_allowed"`
	Visibility   string `json:"visibility"`
	Description  string `json:"description,omitempty"`
	Parameters   *Schema `json:"input_schema,omitempty"`
}

// ListToolsOptions filters ListTools / ListAllActions.
type ListToolsOptions struct {
	OnlyWrite         bool
	OnlyRead          bool
	NamePrefix        string
	IncludeParameters bool
	Compact           bool
}

// ListTools implements list_tools: filterable by write/read and
// name prefix, returning the public catalog view.
func (r *Registry) ListTools(opts ListToolsOptions) []ToolSummary {
	var out []ToolSummary
	for _, t := range r.List() {
		if t.Visibility != Public {
			continue
		}
		write := t.WriteAction()
		if opts.OnlyWrite && !write {
			continue
		}
		if opts.OnlyRead && write {
			continue
		}
		if opts.NamePrefix != "" && !hasPrefix(t.Name, opts.NamePrefix) {
			continue
		}
		s := ToolSummary{
			Name:         t.Name,
			WriteAction:  write,
			WriteAllowed: r.Gate.Allowed() || (t.SideEffect == "LOCAL_MUTATION" && r.Gate.AutoApproved()),
			Visibility:   string(t.Visibility),
		}
		if !opts.Compact {
			s.Description = t.Description
		}
		if opts.IncludeParameters {
			s.Parameters = t.InputSchema
		}
		out = append(out, s)
	}
	return out
}

// ListAllActions mirrors list_tools, including internal-visibility tools,
// with optional include_parameters and compact views.
func (r *Registry) ListAllActions(opts ListToolsOptions) []ToolSummary {
	var out []ToolSummary
	for _, t := range r.List() {
		write := t.WriteAction()
		if opts.OnlyWrite && !write {
			continue
		}
		if opts.OnlyRead && write {
			continue
		}
		if opts.NamePrefix != "" && !hasPrefix(t.Name, opts.NamePrefix) {
			continue
		}
		s := ToolSummary{
			Name:         t.Name,
			WriteAction:  write,
			WriteAllowed: r.Gate.Allowed() || (t.SideEffect == "LOCAL_MUTATION" && r.Gate.AutoApproved()),
			Visibility:   string(t.Visibility),
		}
		if !opts.Compact {
			s.Description = t.Description
		}
		if opts.IncludeParameters {
			s.Parameters = t.InputSchema
		}
		out = append(out, s)
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	if len(prefix) > len(s) {
		return false
	}
	return s[:len(prefix)] == prefix
}

// ToolDescription is the describe_tool response shape.
type ToolDescription struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	WriteAction      bool    `json:"write_action"`
	AutoApproved     bool    `json:"auto_approved"`
	ApprovalRequired bool    `json:"approval_required"`
	InputSchema      *Schema `json:"input_schema,omitempty"`
}

// DescribeTool implements describe_tool for a single name.
func (r *Registry) DescribeTool(name string) (*ToolDescription, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return r.describe(t), nil
}

// DescribeTools implements describe_tool(names) batch form.
func (r *Registry) DescribeTools(names []string) ([]*ToolDescription, error) {
	out := make([]*ToolDescription, 0, len(names))
	for _, n := range names {
		t, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", n)
		}
		out = append(out, r.describe(t))
	}
	return out, nil
}

func (r *Registry) describe(t *Tool) *ToolDescription {
	write := t.WriteAction()
	approvalRequired := false
	switch t.SideEffect {
	case "REMOTE_MUTATION":
		approvalRequired = !r.Gate.Allowed()
	case "LOCAL_MUTATION":
		approvalRequired = !(r.Gate.AutoApproved() || r.Gate.Allowed())
	}
	return &ToolDescription{
		Name:             t.Name,
		Description:      t.Description,
		WriteAction:      write,
		AutoApproved:     r.Gate.AutoApproved(),
		ApprovalRequired: approvalRequired,
		InputSchema:      t.InputSchema,
	}
}

// maxValidateBatch is the batch limit for validate_tool_args.
const maxValidateBatch = 10

// ValidationResult is one tool's outcome within a validate_tool_args batch.
type ValidationResult struct {
	ToolName string   `json:"tool_name"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
}

// ValidateToolArgs re-runs the schema validator for each (toolName, payload)
// pair without invoking any handler. It never executes side
// effects; payload is normalized the same way Dispatch normalizes args.
func (r *Registry) ValidateToolArgs(toolNames []string, payload any) ([]ValidationResult, error) {
	if len(toolNames) == 0 {
		return nil, fmt.Errorf("at least one tool name is required")
	}
	if len(toolNames) > maxValidateBatch {
		return nil, fmt.Errorf("validate_tool_args accepts at most %d tools per call, got %d", maxValidateBatch, len(toolNames))
	}

	args, err := NormalizeArgs(payload)
	if err != nil {
		return nil, err
	}

	out := make([]ValidationResult, 0, len(toolNames))
	for _, name := range toolNames {
		t, ok := r.Get(name)
		if !ok {
			out = append(out, ValidationResult{ToolName: name, Valid: false, Errors: []string{fmt.Sprintf("unknown tool %q", name)}})
			continue
		}
		if err := ValidateArgs(t.InputSchema, args); err != nil {
			var messages []string
			if ve, ok := err.(interface{ Error() string }); ok {
				messages = []string{ve.Error()}
			}
			out = append(out, ValidationResult{ToolName: name, Valid: false, Errors: messages})
			continue
		}
		out = append(out, ValidationResult{ToolName: name, Valid: true})
	}
	return out, nil
}
