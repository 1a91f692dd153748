package parse

// Registry maps a detected format to its parser. Adding a new issuer means
// registering a new parser, not touching dispatch.
type Registry struct {
	parsers map[Format]Parser
}

// NewRegistry creates a registry with all built-in parsers registered
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[Format]Parser)}
	r.Register(&HDFCParser{})
	r.Register(&SBIParser{})
	r.Register(&AMEXParser{})
	return r
}

// Register adds a parser under its own format tag
func (r *Registry) Register(p Parser) {
	r.parsers[p.Format()] = p
}

// Get returns the parser for a format, or false for unknown formats
func (r *Registry) Get(f Format) (Parser, bool) {
	p, ok := r.parsers[f]
	return p, ok
}
