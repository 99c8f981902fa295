package bayes

import (
	"strings"
	"testing"
)

// sprinklerNet is the textbook rain/sprinkler/grass network; its posteriors
// are known in closed form.
const sprinklerNet = `
net
{
    name = "sprinkler";
}
node Rain
{
    label = "rain today";
    states = ( "yes" "no" );
}
node Sprinkler
{
    states = ( "yes" "no" );
}
node GrassWet
{
    states = ( "yes" "no" );
}
potential ( Rain )
{
    data = ( 0.2 0.8 );
}
potential ( Sprinkler | Rain )
{
    data = ( ( 0.01 0.99 ) ( 0.4 0.6 ) );
}
potential ( GrassWet | Sprinkler Rain )
{
    data = ( ( ( 0.99 0.01 ) ( 0.9 0.1 ) )
             ( ( 0.8 0.2 ) ( 0.0 1.0 ) ) );
}
`

func TestParseHugin(t *testing.T) {
	net, err := ParseHugin(sprinklerNet)
	if err != nil {
		t.Fatalf("ParseHugin: %v", err)
	}
	if len(net.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(net.Nodes))
	}

	rain, ok := net.NodeIndex("Rain")
	if !ok || rain != 0 {
		t.Errorf("Rain should be node 0, got %d (ok=%v)", rain, ok)
	}
	grass, _ := net.NodeIndex("GrassWet")
	if grass != 2 {
		t.Errorf("GrassWet should be node 2, got %d", grass)
	}

	gw := net.Nodes[grass]
	if len(gw.Parents) != 2 {
		t.Fatalf("GrassWet should have 2 parents, got %d", len(gw.Parents))
	}
	if len(gw.CPT) != 8 {
		t.Errorf("GrassWet CPT should have 8 entries, got %d", len(gw.CPT))
	}
	if gw.CPT[0] != 0.99 {
		t.Errorf("first CPT entry = %f, want 0.99", gw.CPT[0])
	}

	if len(net.Nodes[rain].States) != 2 || net.Nodes[rain].States[0] != "yes" {
		t.Errorf("Rain states parsed wrong: %v", net.Nodes[rain].States)
	}
}

func TestParseHuginErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"no potentials", `net { } node A { states = ( "a" "b" ); }`},
		{"unknown parent", `net { } node A { states = ( "a" "b" ); } potential ( A | B ) { data = ( 0.5 0.5 ); }`},
		{"wrong cpt size", `net { } node A { states = ( "a" "b" ); } potential ( A ) { data = ( 0.5 0.25 0.25 ); }`},
		{"row does not sum", `net { } node A { states = ( "a" "b" ); } potential ( A ) { data = ( 0.9 0.9 ); }`},
		{"single state", `net { } node A { states = ( "a" ); } potential ( A ) { data = ( 1.0 ); }`},
		{"duplicate node", `net { } node A { states = ( "a" "b" ); } node A { states = ( "a" "b" ); } potential ( A ) { data = ( 0.5 0.5 ); }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseHugin(tt.src); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseHuginComments(t *testing.T) {
	src := strings.Replace(sprinklerNet, "node Rain", "% a comment line\nnode Rain", 1)
	if _, err := ParseHugin(src); err != nil {
		t.Fatalf("comments should be ignored: %v", err)
	}
}
