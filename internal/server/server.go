package server

import (
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"pipestock/internal/client"
	"pipestock/internal/configuration"
	"pipestock/internal/inventory"
	"pipestock/internal/metrics"
)

type Server struct {
	Inventory     *inventory.Service
	Client        client.Client
	Logger        logger
	Metrics       *metrics.Metrics
	AuthSecretKey jwk.Key
	APIKeys       []configuration.APIKey
	// Placeholders fills empty views with demo records, marked as such.
	Placeholders bool
	FCMTopic     string
	Now          func() time.Time
}

type logger interface {
	Tracef(format string, v ...any)
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

func (s Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
