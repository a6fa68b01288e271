package account

import "time"

// Account represents a tenant that owns items.
type Account struct {
	ID        string            `json:"id"`
	Owner     string            `json:"owner" validate:"required,max=128"`
	Metadata  map[string]string `json:"metadata,omitempty" validate:"max=64,dive,keys,required,max=64,endkeys,max=1024"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
