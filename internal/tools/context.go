package tools

// RuntimeContext defines which tools a given caller kind sees.
// Contexts are data, not subclassing: a disabled tool is neither
// discoverable nor callable in that context.
type RuntimeContext struct {
	Name string
	// Excluded tools are hidden and refuse calls.
	Excluded []string
	// Optional tools are disabled unless the active project's config
	// includes them by name.
	Optional []string
}

// Enabled reports whether a tool is available, given the set of
// optional tools the active project turned on and the project-level
// exclusion list.
func (c *RuntimeContext) Enabled(tool string, projectIncluded, projectExcluded []string) bool {
	for _, name := range projectExcluded {
		if name == tool {
			return false
		}
	}
	for _, name := range c.Excluded {
		if name == tool {
			return false
		}
	}
	for _, name := range c.Optional {
		if name == tool {
			return contains(projectIncluded, tool)
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// DefaultContexts returns the built-in runtime contexts.
//
// "agent" is the full surface. "ide-assistant" assumes the IDE
// already gives the caller file reading, creation, and directory
// listing, so those tools are excluded; the editing surface stays.
func DefaultContexts() map[string]*RuntimeContext {
	return map[string]*RuntimeContext{
		"agent": {
			Name:     "agent",
			Optional: []string{"delete_memory"},
		},
		"ide-assistant": {
			Name: "ide-assistant",
			Excluded: []string{
				"read_file", "create_text_file", "list_dir", "find_file",
			},
			Optional: []string{"delete_memory"},
		},
	}
}
