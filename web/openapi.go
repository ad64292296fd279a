package web

// ParamView is the stable parameter shape exposed to documentation
// consumers.
type ParamView struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

// RouteView is the read-only route projection the OpenAPI generator
// consumes. It stays stable after startup.
type RouteView struct {
	Method       string                 `json:"method"`
	Pattern      string                 `json:"pattern"`
	Params       []ParamView            `json:"params,omitempty"`
	IngressType  string                 `json:"ingress_type,omitempty"`
	EgressType   string                 `json:"egress_type,omitempty"`
	SecurityTags []string               `json:"security_tags,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Routes projects the materialized routing table into its read-only view.
func (p *Pipeline) Routes() []RouteView {
	views := make([]RouteView, 0, len(p.routes))
	for _, rd := range p.routes {
		views = append(views, routeView(rd))
	}
	return views
}

func routeView(rd *RouteDescriptor) RouteView {
	view := RouteView{
		Method:       rd.Method,
		Pattern:      rd.PathPattern,
		SecurityTags: append([]string{}, rd.SecurityTags...),
	}
	if len(rd.Metadata) > 0 {
		view.Metadata = rd.Metadata
	}
	if rd.IngressType != nil {
		view.IngressType = rd.IngressType.String()
	}
	if rd.EgressType != nil {
		view.EgressType = rd.EgressType.String()
	}
	for _, p := range rd.Params {
		pv := ParamView{
			Name:     p.Name,
			Kind:     string(p.Kind),
			Required: p.Required,
			Default:  p.Default,
		}
		if p.Target != nil {
			pv.Type = p.Target.String()
		}
		view.Params = append(view.Params, pv)
	}
	return view
}
