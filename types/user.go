package types

type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HasPassword bool   `json:"has_password"`
}

type UserCreate struct {
	Name     string  `json:"name"`
	Password *string `json:"password,omitempty"`
}

type PasswordUpdate struct {
	Password *string `json:"password"`
}
