package graph

// Route is the mix topology after the output gain.
type Route int

const (
	// RouteDryOnly sends the decoded signal straight to the destination.
	RouteDryOnly Route = iota
	// RouteDryPlusWet also feeds the convolution reverb and sums both.
	RouteDryPlusWet
)

func (r Route) String() string {
	switch r {
	case RouteDryOnly:
		return "dry_only"
	case RouteDryPlusWet:
		return "dry_plus_wet"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Route) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Node names reported by Edges.
const (
	NodeSource      = "source"
	NodeRotator     = "rotator"
	NodeDecoder     = "decoder"
	NodeOutputGain  = "output_gain"
	NodeDryGain     = "dry_gain"
	NodeConvolver   = "convolver"
	NodeWetGain     = "wet_gain"
	NodeReverbGain  = "reverb_gain"
	NodeDestination = "destination"
)

// Edge is one connection in the processing chain.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

var chainEdges = []Edge{
	{NodeSource, NodeRotator},
	{NodeRotator, NodeDecoder},
	{NodeDecoder, NodeOutputGain},
}

var dryEdges = []Edge{
	{NodeOutputGain, NodeDryGain},
	{NodeDryGain, NodeDestination},
}

var wetEdges = []Edge{
	{NodeOutputGain, NodeConvolver},
	{NodeConvolver, NodeWetGain},
	{NodeWetGain, NodeReverbGain},
	{NodeReverbGain, NodeDestination},
}

// edges lists the connections for a route. The source edge is present only
// when a source is connected.
func edges(r Route, sourced bool) []Edge {
	out := make([]Edge, 0, len(chainEdges)+len(dryEdges)+len(wetEdges))
	if sourced {
		out = append(out, chainEdges...)
	} else {
		out = append(out, chainEdges[1:]...)
	}
	out = append(out, dryEdges...)
	if r == RouteDryPlusWet {
		out = append(out, wetEdges...)
	}
	return out
}
