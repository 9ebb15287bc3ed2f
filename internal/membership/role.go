// internal/membership/role.go
package membership

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is the closed set of club roles. The numeric values are the ids
// stored in usuarios.id_rol.
type Role int16

const (
	RoleGuest Role = iota + 1
	RoleMember
	RolePlayer
	RoleCoach
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleGuest:  "invitado",
	RoleMember: "socio",
	RolePlayer: "jugador",
	RoleCoach:  "entrenador",
	RoleAdmin:  "administrador",
}

type UnknownRoleError struct {
	Value string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %q", e.Value)
}

// RoleFromID range-checks id before narrowing it, so ids that wrap around
// int16 never alias a real role.
func RoleFromID(id int64) (Role, error) {
	if id < int64(RoleGuest) || id > int64(RoleAdmin) {
		return 0, &UnknownRoleError{Value: fmt.Sprint(id)}
	}
	r := Role(id)
	if _, ok := roleNames[r]; !ok {
		return 0, &UnknownRoleError{Value: fmt.Sprint(id)}
	}
	return r, nil
}

func RoleFromName(name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return 0, &UnknownRoleError{Value: name}
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Name returns the Spanish role name used by the client, or "" for an
// invalid value.
func (r Role) Name() string {
	return roleNames[r]
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", int16(r))
	}
	return r.Name()
}

// AfterTeamJoin returns the role a user holds after joining a team. Guests
// and members become players; everyone else keeps their role.
func (r Role) AfterTeamJoin() Role {
	switch r {
	case RoleGuest, RoleMember:
		return RolePlayer
	default:
		return r
	}
}

func (r *Role) Scan(src any) error {
	var id int64
	switch v := src.(type) {
	case int64:
		id = v
	case []byte:
		if _, err := fmt.Sscan(string(v), &id); err != nil {
			return fmt.Errorf("scan role: %w", err)
		}
	case nil:
		return &UnknownRoleError{Value: "NULL"}
	default:
		return fmt.Errorf("scan role: unsupported type %T", src)
	}

	role, err := RoleFromID(id)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, &UnknownRoleError{Value: fmt.Sprint(int16(r))}
	}
	return int64(r), nil
}
