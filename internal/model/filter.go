package model

// FilterType tags the variant carried by a Filter.
type FilterType string

const (
	FilterRequestHeaderModifier  FilterType = "RequestHeaderModifier"
	FilterResponseHeaderModifier FilterType = "ResponseHeaderModifier"
	FilterRequestRedirect        FilterType = "RequestRedirect"
	FilterURLRewrite             FilterType = "URLRewrite"
	FilterStaticResponse         FilterType = "StaticResponse"
	FilterRequestMirror          FilterType = "RequestMirror"
)

// Filter is a closed sum type: Type selects exactly one of the variant
// fields, the others are nil. New kinds extend this struct and the chain
// processor together.
type Filter struct {
	Type                   FilterType      `yaml:"type" json:"type"`
	RequestHeaderModifier  *HeaderModifier `yaml:"request_header_modifier,omitempty" json:"requestHeaderModifier,omitempty"`
	ResponseHeaderModifier *HeaderModifier `yaml:"response_header_modifier,omitempty" json:"responseHeaderModifier,omitempty"`
	RequestRedirect        *Redirect       `yaml:"request_redirect,omitempty" json:"requestRedirect,omitempty"`
	URLRewrite             *URLRewrite     `yaml:"url_rewrite,omitempty" json:"urlRewrite,omitempty"`
	StaticResponse         *StaticResponse `yaml:"static_response,omitempty" json:"staticResponse,omitempty"`
	RequestMirror          *Mirror         `yaml:"request_mirror,omitempty" json:"requestMirror,omitempty"`
}

// Header is a name/value pair.
type Header struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// HeaderModifier edits a header set: Set replaces, Add appends, Remove deletes.
type HeaderModifier struct {
	Set    []Header `yaml:"set,omitempty" json:"set,omitempty"`
	Add    []Header `yaml:"add,omitempty" json:"add,omitempty"`
	Remove []string `yaml:"remove,omitempty" json:"remove,omitempty"`
}

// PathModifierType selects full replacement or prefix substitution.
type PathModifierType string

const (
	ReplaceFullPath    PathModifierType = "ReplaceFullPath"
	ReplacePrefixMatch PathModifierType = "ReplacePrefixMatch"
)

// PathModifier rewrites the request path.
type PathModifier struct {
	Type  PathModifierType `yaml:"type" json:"type"`
	Value string           `yaml:"value" json:"value"`
}

// Redirect answers with a 3xx. Unset fields fall back to request values.
type Redirect struct {
	Scheme     *string       `yaml:"scheme,omitempty" json:"scheme,omitempty"`
	Hostname   *string       `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	Port       *int32        `yaml:"port,omitempty" json:"port,omitempty"`
	Path       *PathModifier `yaml:"path,omitempty" json:"path,omitempty"`
	StatusCode int           `yaml:"status_code,omitempty" json:"statusCode,omitempty"`
}

// URLRewrite mutates the upstream host and path before forwarding.
type URLRewrite struct {
	Hostname *string       `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	Path     *PathModifier `yaml:"path,omitempty" json:"path,omitempty"`
}

// StaticResponse answers directly without contacting a backend.
type StaticResponse struct {
	StatusCode  int    `yaml:"status_code" json:"statusCode"`
	Body        string `yaml:"body,omitempty" json:"body,omitempty"`
	ContentType string `yaml:"content_type,omitempty" json:"contentType,omitempty"`
}

// Mirror duplicates the request to a backend and discards the result.
type Mirror struct {
	Backend BackendRef `yaml:"backend" json:"backend"`
}
