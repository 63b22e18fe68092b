// Package chat implements direct messaging on top of a message store, a
// notification store, a user directory and a realtime broadcaster.
//
// A send persists the message, derives a notification from it and pushes
// both to the receiver's room. Persistence steps are independent: a message
// that was stored is never rolled back because its notification failed, and
// delivery problems never fail a send.
package chat

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/rubiojr/pulse/pkg/realtime"
)

// Options wires a Service. Now defaults to time.Now.
type Options struct {
	Messages      core.MessageStore
	Notifications core.NotificationStore
	Users         core.UserDirectory
	Broadcaster   realtime.Broadcaster
	Now           func() time.Time

	// DeliverUnenriched pushes a notification even when its sender profile
	// could not be joined. The pushed payload then only carries the sender
	// id.
	DeliverUnenriched bool
}

type Service struct {
	messages      core.MessageStore
	notifications core.NotificationStore
	users         core.UserDirectory
	broadcaster   realtime.Broadcaster
	now           func() time.Time

	deliverUnenriched atomic.Bool
	validate          *validator.Validate
	logger            *log.Logger
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Messages == nil:
		return nil, errors.New("chat: message store is required")
	case opts.Notifications == nil:
		return nil, errors.New("chat: notification store is required")
	case opts.Users == nil:
		return nil, errors.New("chat: user directory is required")
	case opts.Broadcaster == nil:
		return nil, errors.New("chat: broadcaster is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		messages:      opts.Messages,
		notifications: opts.Notifications,
		users:         opts.Users,
		broadcaster:   opts.Broadcaster,
		now:           opts.Now,
		validate:      newValidator(),
		logger:        log.ForService("chat"),
	}
	s.deliverUnenriched.Store(opts.DeliverUnenriched)
	return s, nil
}

// SetDeliverUnenriched changes the enrichment fallback at runtime.
func (s *Service) SetDeliverUnenriched(v bool) {
	s.deliverUnenriched.Store(v)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// checkStruct validates req and converts failures to InvalidArgument,
// naming the first offending field.
func (s *Service) checkStruct(op string, req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return core.InvalidArgument(op, "invalid request: %v", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return core.InvalidArgument(op, "%s is required", fe.Field())
	case "uuid":
		return core.InvalidArgument(op, "invalid %s %q", fe.Field(), fmt.Sprint(fe.Value()))
	case "oneof":
		return core.InvalidArgument(op, "%s must be one of: %s", fe.Field(), fe.Param())
	case "max":
		return core.InvalidArgument(op, "%s is too long", fe.Field())
	}
	return core.InvalidArgument(op, "invalid %s", fe.Field())
}

// requireUser fails with NotFound when id does not resolve.
func (s *Service) requireUser(ctx context.Context, op, field string, id core.UserID) error {
	ok, err := s.users.UserExists(ctx, id)
	if err != nil {
		s.logger.Errorf("%s: looking up %s %s: %v", op, field, id, err)
		return core.Internal(op, err)
	}
	if !ok {
		return core.NotFound(op, "%s not found", field)
	}
	return nil
}

// ResolveUser checks that an authenticated identity still exists.
func (s *Service) ResolveUser(ctx context.Context, id core.UserID) error {
	if err := core.ValidateUserID("user", id); err != nil {
		return err
	}
	return s.requireUser(ctx, "resolve user", "user", id)
}

// enrich re-reads a stored notification with its sender profile. ok is
// false when nothing should be pushed.
func (s *Service) enrich(ctx context.Context, n core.Notification) (en core.EnrichedNotification, ok bool) {
	en, err := s.notifications.EnrichedNotification(ctx, n.ID)
	if err == nil {
		return en, true
	}
	if !s.deliverUnenriched.Load() {
		s.logger.Warnf("notification %s not delivered, enrichment failed: %v", n.ID, err)
		return core.EnrichedNotification{}, false
	}
	s.logger.Warnf("delivering notification %s without sender profile: %v", n.ID, err)
	return core.Unenriched(n), true
}
