package node

import "fmt"

// ComponentType represents the role of this node in the mesh.
type ComponentType int

const (
	RoleNone    ComponentType = iota
	RoleLeaf                  // Sensing and relaying node
	RoleGateway               // Aggregating uplink node
)

func (c ComponentType) String() string {
	switch c {
	case RoleLeaf:
		return "leaf"
	case RoleGateway:
		return "gateway"
	default:
		return "none"
	}
}

// ParseRole maps a CLI role name to a ComponentType.
func ParseRole(s string) (ComponentType, error) {
	switch s {
	case "leaf", "soldier":
		return RoleLeaf, nil
	case "gateway", "queen":
		return RoleGateway, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}
