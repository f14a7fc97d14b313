package model

import "time"

// Trainer is an authenticated coach. APIKey authenticates inbox calls.
type Trainer struct {
	UserID    string    `db:"user_id" json:"userId"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	Email     string    `db:"email" json:"email"`
	APIKey    string    `db:"api_key" json:"-"`
	CRMUserID *string   `db:"crm_user_id" json:"crmUserId,omitempty"`
	Timezone  string    `db:"timezone" json:"timezone"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func (t Trainer) DisplayName() string { return joinName(t.FirstName, t.LastName) }

// Client is a registered user coached by a trainer.
type Client struct {
	UserID    string    `db:"user_id" json:"userId"`
	TrainerID string    `db:"trainer_user_id" json:"trainerId"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func (c Client) DisplayName() string { return joinName(c.FirstName, c.LastName) }

// Contact mirrors a CRM contact. UserID links it to a registered client when known.
type Contact struct {
	ID           string    `db:"id" json:"id"`
	CRMContactID string    `db:"crm_contact_id" json:"crmContactId"`
	TrainerID    string    `db:"trainer_user_id" json:"trainerId"`
	UserID       *string   `db:"user_id" json:"userId,omitempty"`
	FirstName    string    `db:"first_name" json:"firstName"`
	LastName     string    `db:"last_name" json:"lastName"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"phone" json:"phone"`
	Timezone     string    `db:"timezone" json:"timezone"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

func (c Contact) DisplayName() string { return joinName(c.FirstName, c.LastName) }

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
