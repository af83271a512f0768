package app

import (
	"jobhost/internal/config"
	"jobhost/internal/transport/httpapi"
)

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, bool, error) {
	if cfg == nil {
		return httpapi.Config{}, true, nil
	}
	h := cfg.HTTP
	read, err := config.ParseDurationField("http.read_timeout", h.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, false, err
	}
	write, err := config.ParseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, false, err
	}
	window, err := config.ParseDurationField("http.rate_limit.window", h.RateLimit.Window)
	if err != nil {
		return httpapi.Config{}, false, err
	}
	addr := h.Addr
	if addr == "" {
		addr = config.DefaultAddr
	}
	return httpapi.Config{
		Addr:            addr,
		ReadTimeout:     read,
		WriteTimeout:    write,
		RequestID:       h.RequestID,
		RateLimitMax:    h.RateLimit.Max,
		RateLimitWindow: window,
	}, h.IsEnabled(), nil
}
