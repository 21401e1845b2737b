package parser

// Strategy type names.
const (
	TypeCSS   = "css"
	TypeXPath = "xpath"
	TypeAI    = "ai"
)

// NewDefaultRegistry registers css, xpath and ai. The json type has no strategy.
func NewDefaultRegistry(ai *AI) *Registry {
	r := NewRegistry()
	r.Register(TypeCSS, CSS{})
	r.Register(TypeXPath, XPath{})
	if ai != nil {
		r.Register(TypeAI, ai)
	}
	return r
}
