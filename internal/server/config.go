package server

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer *http.Server

	// JSON API handlers by route pattern; middleware options rewrap them
	handlers map[string]http.Handler

	// the websocket endpoint bypasses the POST/JSON and timeout wrapping
	ws http.Handler

	jwtSecret string
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host      string `env:"HOST" envDefault:"0.0.0.0"`
	Port      uint16 `env:"PORT" envDefault:"9000"`
	JWTSecret string `env:"JWT_SECRET,required"`
}

// WithEnvConfig enables processing exported EnvConfig struct to act as a source of config parameters
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
		c.jwtSecret = cfg.JWTSecret
	})
}

// JWTSecret sets the token verification secret directly, bypassing EnvConfig
func JWTSecret(secret string) Option {
	return optionFunc(func(c *config) {
		c.jwtSecret = secret
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// TimeoutHandler wraps each JSON handler in http.TimeoutHandler with provided duration and message.
// The websocket endpoint is left alone since hijacking does not work through it.
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = http.TimeoutHandler(h, d, msg)
		}
	})
}

// applyEnforcePostJson wraps each JSON handler with enforcePostJson middleware
func applyEnforcePostJson() Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = enforcePostJson(h)
		}
	})
}

// applyAuthenticate wraps every handler with bearer-token claims extraction
func applyAuthenticate() Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = authenticate(h, c.jwtSecret)
		}
		// websocket clients cannot set headers, so the token arrives as a
		// query parameter and is lifted into the header first
		c.ws = bearerFromQuery(authenticate(c.ws, c.jwtSecret))
	})
}

// applyLog wraps every handler with the request-logging middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = log(h, logger)
		}
		c.ws = log(c.ws, logger)
	})
}

// registerHandlers mounts all handlers on a newly initialized http.ServeMux
// used as the http.Handler for http.Server in config struct
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for pattern, h := range c.handlers {
			mux.Handle(pattern, h)
		}
		mux.Handle("/ws", c.ws)
		c.httpServer.Handler = mux
	})
}
