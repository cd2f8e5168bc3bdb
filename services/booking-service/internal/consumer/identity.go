package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// UserStore receives the mirrored identity records.
type UserStore interface {
	UpsertUser(ctx context.Context, u model.User) error
}

type Provisioner interface {
	ProvisionDefaults(ctx context.Context, providerID string) (bool, error)
}

type userUpserted struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
	IsActive *bool  `json:"is_active"`
}

// IdentityHandler mirrors identity.user.upserted events into users. Active providers get the
// default weekly availability the first time they are seen with no rules.
func IdentityHandler(users UserStore, provisioner Provisioner, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload userUpserted
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			return fmt.Errorf("%w: decode user event: %v", ErrMalformed, err)
		}
		id := strings.TrimSpace(payload.ID)
		if id == "" {
			id = strings.TrimSpace(payload.UserID)
		}
		if id == "" {
			return fmt.Errorf("%w: user event without id", ErrMalformed)
		}

		u := model.User{
			ID:       id,
			Name:     strings.TrimSpace(payload.Name),
			Email:    strings.TrimSpace(payload.Email),
			Phone:    strings.TrimSpace(payload.Phone),
			Role:     model.ParseRole(payload.Role),
			IsActive: payload.IsActive == nil || *payload.IsActive,
		}
		if err := users.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("upsert user %s: %w", id, err)
		}

		if u.Role != model.RoleProvider || !u.IsActive || provisioner == nil {
			return nil
		}
		created, err := provisioner.ProvisionDefaults(ctx, id)
		if err != nil {
			return fmt.Errorf("provision defaults for %s: %w", id, err)
		}
		if created {
			logger.Info("provider onboarded", "provider_id", id)
		}
		return nil
	}
}
