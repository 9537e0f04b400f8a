package cfa

import (
	"fmt"
	"sort"
	"strings"
)

// Convention is the naming scheme an aggregation uses for its fragment array
// variables
type Convention int

const (
	// CF112 is the CF-1.12 aggregation scheme: shape, location, address and
	// optionally value
	CF112 Convention = iota
	// CFA062 is the older CFA-0.6.2 scheme: location (holding the fragment
	// shapes), file, format and address
	CFA062
)

func (c Convention) String() string {
	if c == CFA062 {
		return "CFA-0.6.2"
	}
	return "CF-1.12"
}

// Terms maps standardized aggregation terms ("shape", "location", ...) to the
// names of the variables that hold them, as declared by a variable's
// aggregated_data attribute
type Terms map[string]string

// ParseTerms decodes a blank-separated "term: variable" list such as
// "shape: fragment_shape location: fragment_location address: fragment_address"
func ParseTerms(s string) (Terms, error) {
	fields := strings.Fields(strings.ReplaceAll(s, ": ", " "))
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("%w: unbalanced term list %q", ErrConvention, s)
	}
	t := Terms{}
	for i := 0; i < len(fields); i += 2 {
		t[strings.TrimSuffix(fields[i], ":")] = fields[i+1]
	}
	return t, nil
}

// Variables lists the fragment array variable names referenced by t, sorted
func (t Terms) Variables() []string {
	out := make([]string, 0, len(t))
	for _, v := range t {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// FragmentTerms names the variable serving each decoding role
type FragmentTerms struct {
	Shape    string
	Location string
	Address  string
	Format   string
	Value    string
}

// ResolveConvention picks the naming scheme in effect. A Conventions
// attribute mentioning CFA-0.6.2 selects that scheme, anything else is read
// as CF-1.12. Terms carrying markers of both schemes are ambiguous and fail;
// precedence is never guessed.
func ResolveConvention(conventions string, terms Terms) (Convention, FragmentTerms, error) {
	_, hasShape := terms["shape"]
	_, hasFile := terms["file"]
	if hasShape && hasFile {
		return 0, FragmentTerms{}, fmt.Errorf("%w: terms mix the shape/location/address and location/file/format schemes", ErrConvention)
	}

	conv := CF112
	for _, c := range strings.Fields(strings.ReplaceAll(conventions, ",", " ")) {
		if c == "CFA-0.6.2" {
			conv = CFA062
		}
	}

	var (
		ft       FragmentTerms
		required []string
	)
	switch conv {
	case CFA062:
		required = []string{"location", "file", "format"}
		ft = FragmentTerms{Shape: terms["location"], Location: terms["file"], Format: terms["format"], Address: terms["address"]}
	default:
		required = []string{"shape", "location", "address"}
		ft = FragmentTerms{Shape: terms["shape"], Location: terms["location"], Address: terms["address"], Value: terms["value"]}
	}
	// a constant-valued CF-1.12 aggregation needs no location or address
	if conv == CF112 && ft.Value != "" {
		required = []string{"shape", "value"}
	}

	for _, r := range required {
		if _, ok := terms[r]; !ok {
			return conv, ft, fmt.Errorf("%w: %s aggregation requires terms %v, got %v", ErrConvention, conv, required, terms.Variables())
		}
	}
	return conv, ft, nil
}

// Substitution replaces every occurrence of Find in a fragment location with
// Replace
type Substitution struct {
	Find    string `hcl:"find"`
	Replace string `hcl:"replace"`
}

// ParseSubstitutions decodes a "substitutions" attribute of the form
// "${base}: /data/ ${remote}: https://host/path/" into ordered pairs
func ParseSubstitutions(s string) ([]Substitution, error) {
	fields := strings.Fields(strings.ReplaceAll(s, ": ", " "))
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("%w: unbalanced substitutions %q", ErrConvention, s)
	}
	subs := make([]Substitution, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		subs = append(subs, Substitution{Find: strings.TrimSuffix(fields[i], ":"), Replace: fields[i+1]})
	}
	return subs, nil
}

// Substitute applies subs to loc in order
func Substitute(loc string, subs []Substitution) string {
	for _, s := range subs {
		if s.Find == "" {
			continue
		}
		loc = strings.ReplaceAll(loc, s.Find, s.Replace)
	}
	return loc
}
