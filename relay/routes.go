package relay

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/udprelay/errors"
)

// Destination is a host/port pair that receives forwarded datagrams.
type Destination struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// String returns the destination in host:port form, bracketing IPv6 literals.
func (d Destination) String() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// InputSpec describes one input: the port it listens on and its ordered outputs.
type InputSpec struct {
	Port    uint16        `json:"port"`
	Outputs []Destination `json:"outputs"`
}

func (s InputSpec) clone() InputSpec {
	outputs := make([]Destination, len(s.Outputs))
	copy(outputs, s.Outputs)
	return InputSpec{Port: s.Port, Outputs: outputs}
}

// RawInput is unvalidated input as supplied by a configuration source.
// Outputs holds one "host:port" string per destination.
type RawInput struct {
	Name    string   `json:"name" yaml:"name"`
	Port    int      `json:"port" yaml:"port"`
	Outputs []string `json:"outputs" yaml:"outputs"`
}

// RouteTable is an immutable snapshot of the relay topology.
// Accessors return copies; changing the topology means building a new table.
type RouteTable struct {
	inputs map[string]InputSpec
}

// EmptyRouteTable returns a table with no inputs.
func EmptyRouteTable() *RouteTable {
	return &RouteTable{inputs: map[string]InputSpec{}}
}

// BuildRouteTable validates raw inputs and builds a RouteTable.
//
// Ports must be in [1,65535]. Each output line must parse as host:port; a malformed
// line fails the whole build with an ErrValidation naming the input and the line.
// Blank lines are ignored. Destination order is preserved.
func BuildRouteTable(raw []RawInput) (*RouteTable, error) {
	inputs := make(map[string]InputSpec, len(raw))

	for _, in := range raw {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, errors.WrapInvalid(errors.Validationf("input name cannot be empty"),
				"RouteTable", "Build", "input validation")
		}
		if _, dup := inputs[name]; dup {
			return nil, errors.WrapInvalid(errors.Validationf("duplicate input name %q", name),
				"RouteTable", "Build", "input validation")
		}
		if in.Port < 1 || in.Port > 65535 {
			return nil, errors.WrapInvalid(errors.Validationf("input %q: port %d out of range [1,65535]", name, in.Port),
				"RouteTable", "Build", "port validation")
		}

		outputs := make([]Destination, 0, len(in.Outputs))
		for _, line := range in.Outputs {
			if strings.TrimSpace(line) == "" {
				continue
			}
			dest, err := ParseDestination(line)
			if err != nil {
				return nil, errors.WrapInvalid(fmt.Errorf("input %q: %w", name, err),
					"RouteTable", "Build", "destination validation")
			}
			outputs = append(outputs, dest)
		}

		inputs[name] = InputSpec{Port: uint16(in.Port), Outputs: outputs}
	}

	return &RouteTable{inputs: inputs}, nil
}

// NewRouteTable builds a table from already-typed specs, applying the same
// validation as BuildRouteTable.
func NewRouteTable(specs map[string]InputSpec) (*RouteTable, error) {
	inputs := make(map[string]InputSpec, len(specs))
	for name, spec := range specs {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(name) != name {
			return nil, errors.WrapInvalid(errors.Validationf("invalid input name %q", name),
				"RouteTable", "New", "input validation")
		}
		if spec.Port == 0 {
			return nil, errors.WrapInvalid(errors.Validationf("input %q: port 0 out of range [1,65535]", name),
				"RouteTable", "New", "port validation")
		}
		for _, d := range spec.Outputs {
			if d.Host == "" || d.Port == 0 {
				return nil, errors.WrapInvalid(errors.Validationf("input %q: invalid destination %q", name, d.String()),
					"RouteTable", "New", "destination validation")
			}
		}
		inputs[name] = spec.clone()
	}
	return &RouteTable{inputs: inputs}, nil
}

// ParseDestination parses a "host:port" line. IPv6 hosts must be bracketed.
func ParseDestination(line string) (Destination, error) {
	s := strings.TrimSpace(line)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Destination{}, errors.Validationf("destination line %q: %v", line, err)
	}
	if host == "" {
		return Destination{}, errors.Validationf("destination line %q: missing host", line)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Destination{}, errors.Validationf("destination line %q: port %q out of range [1,65535]", line, portStr)
	}
	return Destination{Host: host, Port: uint16(port)}, nil
}

// ParseDestinationLines splits newline-separated text into output lines,
// dropping blank lines. Lines are not validated here.
func ParseDestinationLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// Inputs returns the input names in sorted order.
func (t *RouteTable) Inputs() []string {
	names := make([]string, 0, len(t.inputs))
	for name := range t.inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Input returns a copy of the named input's spec.
func (t *RouteTable) Input(name string) (InputSpec, bool) {
	spec, ok := t.inputs[name]
	if !ok {
		return InputSpec{}, false
	}
	return spec.clone(), true
}

// Len returns the number of inputs.
func (t *RouteTable) Len() int {
	return len(t.inputs)
}

// Validate checks cross-input invariants: no two inputs may share a port.
func (t *RouteTable) Validate() error {
	owner := make(map[uint16]string, len(t.inputs))
	for _, name := range t.Inputs() {
		port := t.inputs[name].Port
		if other, taken := owner[port]; taken {
			return errors.Conflictf("inputs %q and %q both request port %d", other, name, port)
		}
		owner[port] = name
	}
	return nil
}

// Equal reports whether two tables describe the same topology, output order included.
func (t *RouteTable) Equal(other *RouteTable) bool {
	if t == nil || other == nil {
		return t == other
	}
	if len(t.inputs) != len(other.inputs) {
		return false
	}
	for name, a := range t.inputs {
		b, ok := other.inputs[name]
		if !ok || a.Port != b.Port || len(a.Outputs) != len(b.Outputs) {
			return false
		}
		for i := range a.Outputs {
			if a.Outputs[i] != b.Outputs[i] {
				return false
			}
		}
	}
	return true
}

// Raw converts the table back to RawInput form, sorted by name. Editing the
// result and passing it to BuildRouteTable is how callers derive a new table.
func (t *RouteTable) Raw() []RawInput {
	raw := make([]RawInput, 0, len(t.inputs))
	for _, name := range t.Inputs() {
		spec := t.inputs[name]
		outputs := make([]string, 0, len(spec.Outputs))
		for _, d := range spec.Outputs {
			outputs = append(outputs, d.String())
		}
		raw = append(raw, RawInput{Name: name, Port: int(spec.Port), Outputs: outputs})
	}
	return raw
}

type routeTableJSON struct {
	Inputs map[string]InputSpec `json:"inputs"`
}

// MarshalJSON encodes the table in the persisted format:
// {"inputs": {"<name>": {"port": int, "outputs": [{"host": string, "port": int}]}}}
func (t *RouteTable) MarshalJSON() ([]byte, error) {
	wire := routeTableJSON{Inputs: make(map[string]InputSpec, len(t.inputs))}
	for name, spec := range t.inputs {
		wire.Inputs[name] = spec.clone()
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the persisted format and validates it.
func (t *RouteTable) UnmarshalJSON(data []byte) error {
	var wire routeTableJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(errors.Validationf("decode route table: %v", err),
			"RouteTable", "UnmarshalJSON", "decode")
	}
	built, err := NewRouteTable(wire.Inputs)
	if err != nil {
		return err
	}
	t.inputs = built.inputs
	return nil
}
