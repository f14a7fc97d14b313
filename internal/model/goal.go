package model

import "time"

type Goal struct {
	ID        string    `db:"id" json:"id"`
	ClientID  string    `db:"client_user_id" json:"clientId"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type GoalEntry struct {
	ID        string    `db:"id" json:"id"`
	GoalID    string    `db:"goal_id" json:"goalId"`
	EntryDate time.Time `db:"entry_date" json:"entryDate"`
	Value     float64   `db:"value" json:"value"`
}
