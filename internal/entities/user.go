package entities

import "time"

type User struct {
	ID             int        `json:"id"`
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"is_active"`
	PlanExpiresAt  *time.Time `json:"plan_expires_at"` // nil = no expiry
	ChatbotEnabled bool       `json:"chatbot_enabled"` // plan includes flows
	WarmerEnabled  bool       `json:"warmer_enabled"`  // plan includes warm-up
}

func (u User) planValid(now time.Time) bool {
	if !u.IsActive {
		return false
	}
	return u.PlanExpiresAt == nil || u.PlanExpiresAt.After(now)
}

func (u User) HasChatbotPlan(now time.Time) bool {
	return u.planValid(now) && u.ChatbotEnabled
}

func (u User) HasWarmerPlan(now time.Time) bool {
	return u.planValid(now) && u.WarmerEnabled
}
