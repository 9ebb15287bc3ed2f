// internal/membership/domain.go
package membership

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailInUse          = errors.New("email already in use")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrInvalidGender       = errors.New("invalid gender")
	ErrNameRequired        = errors.New("name is required")
	ErrCredentialsRequired = errors.New("email and password are required")
	ErrNothingToUpdate     = errors.New("no fields to update")
	ErrOldPasswordRequired = errors.New("current password is required to set a new one")
	ErrWrongPassword       = errors.New("current password is incorrect")
	ErrWeakPassword        = errors.New("new password is too short")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

// MinPasswordLength applies to password changes.
const MinPasswordLength = 6

// User is a club user as exposed by the API. The password hash lives in
// Credential and is never serialized.
type User struct {
	ID        int64     `json:"id" db:"id"`
	Role      Role      `json:"id_rol" db:"id_rol"`
	Name      string    `json:"nombre" db:"nombre"`
	Surnames  *string   `json:"apellidos" db:"apellidos"`
	Gender    string    `json:"genero" db:"genero"`
	Email     string    `json:"correo" db:"correo"`
	Phone     *string   `json:"telefono" db:"telefono"`
	Photo     *string   `json:"foto" db:"foto"`
	CreatedAt time.Time `json:"creado_en" db:"creado_en"`
}

// MarshalJSON adds the role name ("rol") next to the numeric role id.
func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	return json.Marshal(struct {
		plain
		RoleName string `json:"rol"`
	}{plain(u), u.Role.Name()})
}

// Credential is the stored password hash of a user.
type Credential struct {
	UserID       int64  `db:"id"`
	Email        string `db:"correo"`
	PasswordHash string `db:"contrasenya"`
}

// Session is the result of a successful login.
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// RegisterRequest carries the sign-up form.
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// ProfileUpdate is a partial update; nil fields are left untouched.
type ProfileUpdate struct {
	Name        *string
	Surnames    *string
	Email       *string
	Photo       *string
	Gender      *string
	Phone       *string
	RoleID      *int64
	OldPassword string
	NewPassword string
}

const AggregateType = "usuario"

// Event types appended to a user's stream.
const (
	EventUserRegistered  = "UserRegistered"
	EventUserRoleChanged = "UserRoleChanged"
)

// UserRegisteredEvent is appended when a user signs up.
type UserRegisteredEvent struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"correo"`
	Name   string `json:"nombre"`
	Role   Role   `json:"id_rol"`
}

// UserRoleChangedEvent is appended whenever a user's role changes.
type UserRoleChangedEvent struct {
	UserID  int64  `json:"user_id"`
	OldRole Role   `json:"old_rol"`
	NewRole Role   `json:"new_rol"`
	Reason  string `json:"reason"`
}

var userNamespace = uuid.MustParse("6f1c2a7e-8b0d-4a57-9f43-2d1e5c7b9a10")

// AggregateID maps a numeric user id onto the event log's UUID keyspace.
func AggregateID(userID int64) uuid.UUID {
	return uuid.NewSHA1(userNamespace, []byte(strconv.FormatInt(userID, 10)))
}
