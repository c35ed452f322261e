// Package drivers handles onboarding: applications, document uploads and
// the admin approval gate.
package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ehailing/internal/media"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/storage"
)

var (
	ErrInvalidApplication = errors.New("invalid driver application")
	ErrNoApplication      = errors.New("driver has not applied")
)

// Uploader stores an object and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

type ApplicationInput struct {
	FullName string
	Car      string
	RideType models.RideType
}

type Service struct {
	Store    storage.DriverStore
	Uploader Uploader
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// SubmitApplication uploads the id, license and car images and records a
// pending application. The driver profile is created unapproved.
func (s *Service) SubmitApplication(ctx context.Context, uid string, in ApplicationInput, docs map[string][]byte) (*models.DriverApplication, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Car = strings.TrimSpace(in.Car)
	if uid == "" || in.FullName == "" || in.Car == "" {
		return nil, fmt.Errorf("%w: name and car are required", ErrInvalidApplication)
	}
	rt, err := models.ParseRideType(string(in.RideType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidApplication, err)
	}
	for _, kind := range media.DocumentKinds {
		if len(docs[kind]) == 0 {
			return nil, fmt.Errorf("%w: missing %s document", ErrInvalidApplication, kind)
		}
	}

	urls := make(map[string]string, len(media.DocumentKinds))
	for _, kind := range media.DocumentKinds {
		key, err := media.DriverApplicationDoc(uid, kind)
		if err != nil {
			return nil, err
		}
		url, err := s.Uploader.Upload(ctx, key, "image/jpeg", bytes.NewReader(docs[kind]))
		if err != nil {
			return nil, err
		}
		urls[kind] = url
	}

	now := s.now()
	app := &models.DriverApplication{
		ID:        uuid.NewString(),
		UID:       uid,
		FullName:  in.FullName,
		Car:       in.Car,
		RideType:  rt,
		Documents: urls,
		Status:    models.ApplicationPending,
		CreatedAt: now,
	}
	if err := s.Store.SaveApplication(ctx, app); err != nil {
		return nil, err
	}
	if _, err := s.Store.UpdateDriver(ctx, uid, func(p *models.DriverProfile) error {
		p.RideType = rt
		p.Profile = models.DriverDetails{FullName: in.FullName, Car: in.Car}
		p.UpdatedAt = now
		return nil
	}); err != nil {
		return nil, err
	}
	s.logger().Info("driver application submitted", "driver_id", uid, "application_id", app.ID)
	return app, nil
}

// Approve flips the admin gate for uid's latest application.
func (s *Service) Approve(ctx context.Context, uid string) (*models.DriverProfile, error) {
	app, err := s.Store.LatestApplication(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoApplication
	}
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationApproved {
		app.Status = models.ApplicationApproved
		if err := s.Store.SaveApplication(ctx, app); err != nil {
			return nil, err
		}
	}
	now := s.now()
	p, err := s.Store.UpdateDriver(ctx, uid, func(p *models.DriverProfile) error {
		p.Approved = true
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("driver approved", "driver_id", uid)
	return p, nil
}

func (s *Service) Profile(ctx context.Context, uid string) (*models.DriverProfile, error) {
	return s.Store.GetDriver(ctx, uid)
}

// RegisterPushToken stores the device token used for ride request pushes.
func (s *Service) RegisterPushToken(ctx context.Context, uid, token string) error {
	_, err := s.Store.UpdateDriver(ctx, uid, func(p *models.DriverProfile) error {
		p.PushToken = token
		p.UpdatedAt = s.now()
		return nil
	})
	return err
}
