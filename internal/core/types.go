package core

import "fmt"

// Direction identifies one emulated path. DirAToB carries traffic received
// on port A out of port B.
type Direction int

const (
	DirAToB Direction = iota
	DirBToA
)

// Directions lists both paths in index order.
var Directions = [2]Direction{DirAToB, DirBToA}

func (d Direction) String() string {
	switch d {
	case DirAToB:
		return "a_to_b"
	case DirBToA:
		return "b_to_a"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Ingress returns the index (0 = A, 1 = B) of the port packets enter on.
func (d Direction) Ingress() int { return int(d) }

// Egress returns the index of the port packets leave through.
func (d Direction) Egress() int { return 1 - int(d) }

// Role names one unit of execution. Each role is bound to a CPU through
// configuration rather than by comparing raw core ids.
type Role string

const (
	RoleRxA     Role = "rx-a"
	RoleRxB     Role = "rx-b"
	RoleWorkerA Role = "worker-a"
	RoleWorkerB Role = "worker-b"
	RoleTxA     Role = "tx-a"
	RoleTxB     Role = "tx-b"
	RoleTimer   Role = "timer"
)

// Roles lists every role in launch order.
var Roles = []Role{RoleTimer, RoleTxA, RoleTxB, RoleWorkerA, RoleWorkerB, RoleRxA, RoleRxB}

// RxRole returns the receive role for port index p.
func RxRole(p int) Role {
	if p == 0 {
		return RoleRxA
	}
	return RoleRxB
}

// WorkerRole returns the worker role serving packets received on port index p.
func WorkerRole(p int) Role {
	if p == 0 {
		return RoleWorkerA
	}
	return RoleWorkerB
}

// TxRole returns the transmit role for port index p.
func TxRole(p int) Role {
	if p == 0 {
		return RoleTxA
	}
	return RoleTxB
}

// PortLabel returns "a" or "b" for port index p.
func PortLabel(p int) string {
	if p == 0 {
		return "a"
	}
	return "b"
}
