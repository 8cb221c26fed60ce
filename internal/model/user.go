package model

import "time"

type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
