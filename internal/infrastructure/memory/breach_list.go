package memory

import (
	"context"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
)

// StaticBreachList answers from a fixed set of plaintext passwords.
type StaticBreachList struct {
	entries map[string]struct{}
}

func NewStaticBreachList(passwords ...string) *StaticBreachList {
	entries := make(map[string]struct{}, len(passwords))
	for _, p := range passwords {
		entries[p] = struct{}{}
	}
	return &StaticBreachList{entries: entries}
}

func (b *StaticBreachList) IsCompromised(_ context.Context, plaintext string) (bool, error) {
	_, ok := b.entries[plaintext]
	return ok, nil
}

var _ port.BreachListChecker = (*StaticBreachList)(nil)

// CommonPasswords satisfy the character-class rules yet top every breach
// corpus. Used when no shared breach list is configured.
var CommonPasswords = []string{
	"Password1", "Password12", "Password123", "Password1234",
	"Passw0rd", "P@ssw0rd", "P@ssword1", "Welcome1", "Welcome123",
	"Qwerty123", "Qwertyuiop1", "Abcd1234", "Abc12345", "Aa123456",
	"Admin123", "Letmein1", "Iloveyou1", "Sunshine1", "Football1",
	"Monkey123", "Changeme1", "Summer2024", "Winter2024", "Spring2025",
}
