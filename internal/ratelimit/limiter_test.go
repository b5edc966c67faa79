package ratelimit

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

type fakeLimiter struct {
	allowFn  func(subject string) (bool, error)
	subjects []string
}

func (f *fakeLimiter) Allow(_ context.Context, subject string) (bool, error) {
	f.subjects = append(f.subjects, subject)
	return f.allowFn(subject)
}

func newLimitedApp(limiter RateLimiter) *fiber.App {
	app := fiber.New()
	app.Post("/v1/preview", Middleware(limiter, nil, nil), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		allowFn    func(string) (bool, error)
		wantStatus int
	}{
		{name: "allowed", allowFn: func(string) (bool, error) { return true, nil }, wantStatus: fiber.StatusOK},
		{name: "rejected", allowFn: func(string) (bool, error) { return false, nil }, wantStatus: fiber.StatusTooManyRequests},
		{name: "limiter error admits", allowFn: func(string) (bool, error) { return false, errors.New("redis down") }, wantStatus: fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			limiter := &fakeLimiter{allowFn: tt.allowFn}
			resp, err := newLimitedApp(limiter).Test(httptest.NewRequest("POST", "/v1/preview", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if len(limiter.subjects) != 1 || !strings.HasSuffix(limiter.subjects[0], "|/v1/preview") {
				t.Fatalf("subjects = %v", limiter.subjects)
			}
		})
	}
}

func TestMiddleware_NilLimiter(t *testing.T) {
	t.Parallel()

	resp, err := newLimitedApp(nil).Test(httptest.NewRequest("POST", "/v1/preview", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
