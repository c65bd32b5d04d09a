package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSailor  Role = "sailor"
	RoleCaptain Role = "captain"
	RoleAdmin   Role = "admin"
	RoleUser    Role = "user"
)

// User is owned by the identity service; this service only reads it.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	VesselName   string    `json:"vesselName"`
	VesselType   string    `json:"vesselType"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Submitter is the public view of a report author.
type Submitter struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	VesselName string    `json:"vesselName"`
	VesselType string    `json:"vesselType"`
}

func SubmitterFromUser(u *User) *Submitter {
	return &Submitter{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		VesselName: u.VesselName,
		VesselType: u.VesselType,
	}
}

// Actor is the identity making a request. The zero value is anonymous.
type Actor struct {
	ID         uuid.UUID
	Role       Role
	Name       string
	VesselName string
	VesselType string
}

var Anonymous = Actor{}

func (a Actor) Authenticated() bool { return a.ID != uuid.Nil }

func (a Actor) IsAdmin() bool { return a.Authenticated() && a.Role == RoleAdmin }
