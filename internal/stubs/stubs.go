package stubs

import (
	"taskpulse/internal/models"
)

// Users is the demo user directory registered at startup. In the product
// deployment the directory comes from the tenant's identity service.
var Users = []models.User{
	{ID: "1", DisplayName: "Alice", AvatarURL: "https://api.dicebear.com/7.x/avataaars/svg?seed=Alice"},
	{ID: "2", DisplayName: "Bob", AvatarURL: "https://api.dicebear.com/7.x/avataaars/svg?seed=Bob"},
	{ID: "3", DisplayName: "Charlie", AvatarURL: "https://api.dicebear.com/7.x/avataaars/svg?seed=Charlie"},
}
