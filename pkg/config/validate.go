package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags plus the cross-field rules
// struct tags can't express (which auth handlers need which credentials).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("%s: failed %q validation (got %v)", first.Namespace(), first.Tag(), first.Value())
		}
		return err
	}
	return validateAuthHandlers(cfg)
}

// validateAuthHandlers ensures every handler named in httpd.authentication
// has the configuration it needs to actually authenticate anyone.
func validateAuthHandlers(cfg *Config) error {
	for _, name := range cfg.HTTPD.Authentication {
		switch name {
		case "basic_auth":
			if cfg.BasicAuth.URL == "" {
				return fmt.Errorf("httpd.authentication enables basic_auth but basic_auth.url is unset")
			}
		case "arvados_auth":
			if cfg.ArvadosAuth.APIHost == "" {
				return fmt.Errorf("httpd.authentication enables arvados_auth but arvados_auth.api_host is unset")
			}
		default:
			return fmt.Errorf("httpd.authentication names unknown handler %q", name)
		}
	}
	return nil
}
