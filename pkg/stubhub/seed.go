package stubhub

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orderdesk/orderdesk-go/pkg/api"
)

// Seed is the YAML fixture loaded at stub startup.
type Seed struct {
	Users         []User             `yaml:"users"`
	Notifications []SeedNotification `yaml:"notifications"`
}

// SeedNotification mirrors api.Notification with YAML tags.
type SeedNotification struct {
	ID        string    `yaml:"id"`
	OrderID   string    `yaml:"order_id"`
	Message   string    `yaml:"message"`
	Status    string    `yaml:"status"`
	CreatedAt time.Time `yaml:"created_at"`
	IsRead    bool      `yaml:"is_read"`
}

// LoadSeed parses a seed fixture file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Apply loads the seed's users and notifications into the server.
func (s *Server) Apply(seed *Seed) {
	for _, u := range seed.Users {
		s.AddUser(u)
	}
	// Seed lists are written oldest first; AddNotification prepends, so the
	// newest entry ends up at the head as the API requires.
	for _, n := range seed.Notifications {
		s.AddNotification(api.Notification{
			ID:        n.ID,
			OrderID:   n.OrderID,
			Message:   n.Message,
			Status:    n.Status,
			CreatedAt: n.CreatedAt,
			IsRead:    n.IsRead,
		})
	}
}
