package bootstrap

import (
	"context"

	"github.com/turtacn/citeresolve/pkg/errors"
	"github.com/turtacn/citeresolve/pkg/types/common"
)

// HealthCheck is one named dependency probe. It satisfies the HTTP health
// handler's checker interface.
type HealthCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func NewHealthCheck(name string, fn func(ctx context.Context) error) HealthCheck {
	return HealthCheck{name: name, fn: fn}
}

func (h HealthCheck) Name() string                    { return h.name }
func (h HealthCheck) Check(ctx context.Context) error { return h.fn(ctx) }

// HealthChecks returns a probe for every enabled dependency.
func (c *Container) HealthChecks() []HealthCheck {
	var out []HealthCheck
	if c.Redis != nil {
		out = append(out, NewHealthCheck("redis", c.Redis.Ping))
	}
	if c.Postgres != nil {
		out = append(out, NewHealthCheck("postgres", c.Postgres.HealthCheck))
	}
	if c.MinIO != nil {
		mc := c.MinIO
		out = append(out, NewHealthCheck("minio", func(ctx context.Context) error {
			h := mc.HealthCheck(ctx)
			if h.Status == common.HealthDown {
				return errors.New(errors.ErrCodeStorageError, h.Message)
			}
			return nil
		}))
	}
	return out
}
