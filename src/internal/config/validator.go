package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maksimkurb/keen-dnsguard/src/internal/tunnel"
	"github.com/maksimkurb/keen-dnsguard/src/internal/utils"
)

// ValidateConfig validates the entire configuration and returns all validation errors
func (c *Config) ValidateConfig() error {
	var validationErrors ValidationErrors

	if c.General == nil {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "general",
			Message:   "configuration must contain 'general' section",
		})
		return validationErrors
	}

	if err := validate.Struct(c.General); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "general", "")...)
	}

	validationErrors = append(validationErrors, c.validateTunnel()...)

	if c.Upstream != nil {
		if err := validate.Struct(c.Upstream); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, "upstream", "")...)
		}
	}

	if c.Dispatcher != nil {
		if err := validate.Struct(c.Dispatcher); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, "dispatcher", "")...)
		}
	}

	if c.API != nil {
		if err := validate.Struct(c.API); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, "api", "")...)
		}
	}

	if len(c.Lists) == 0 {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "list",
			Message:   "configuration must contain at least one list",
		})
	} else {
		validationErrors = append(validationErrors, c.validateLists()...)
	}

	if len(validationErrors) > 0 {
		return validationErrors
	}

	return nil
}

func (c *Config) validateTunnel() ValidationErrors {
	var validationErrors ValidationErrors
	if c.Tunnel == nil {
		return nil
	}

	if err := validate.Struct(c.Tunnel); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "tunnel", "")...)
		return validationErrors
	}

	// The DNS address must be reachable through the tunnel
	dns := c.Tunnel.GetDNSAddress()
	routed := c.Tunnel.GetAddress().Masked().Contains(dns)
	for _, r := range c.Tunnel.GetRoutes() {
		if r.Contains(dns) {
			routed = true
		}
	}
	if !routed {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "tunnel.dns_address",
			Message:   fmt.Sprintf("%s is not inside the tunnel address or any tunnel route", dns),
		})
	}

	if c.Tunnel.GetAddress().Addr() == dns {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "tunnel.dns_address",
			Message:   "must differ from the tunnel address",
		})
	}

	for i, rule := range c.Tunnel.CaptureRules {
		if rule == nil {
			continue
		}
		for _, part := range append([]string{rule.Table, rule.Chain}, rule.Rule...) {
			if err := tunnel.CheckTemplate(part); err != nil {
				validationErrors = append(validationErrors, ValidationError{
					FieldPath: fmt.Sprintf("tunnel.capture_rule[%d]", i),
					Message:   fmt.Sprintf("invalid rule part %q: %v", part, err),
				})
			}
		}
	}

	return validationErrors
}

func (c *Config) validateLists() ValidationErrors {
	var validationErrors ValidationErrors
	seenNames := make(map[string]bool)

	for i, list := range c.Lists {
		itemName := list.ListName
		if itemName == "" {
			itemName = fmt.Sprintf("list[%d]", i)
		}

		if err := validate.Struct(list); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, fmt.Sprintf("list.%d", i), itemName)...)
		}

		if seenNames[list.ListName] {
			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: "list_name",
				Message:   fmt.Sprintf("duplicate list name: %s", list.ListName),
			})
		}
		seenNames[list.ListName] = true

		// Exactly one source per list
		isURL := list.URL != ""
		isFile := list.File != ""
		isHosts := len(list.Hosts) > 0

		if !isURL && !isFile && !isHosts {
			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: "source",
				Message:   "must specify one of: url, file, or hosts",
			})
		}

		if (isURL && (isFile || isHosts)) || (isFile && isHosts) {
			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: "source",
				Message:   "can only specify one of: url, file, or hosts",
			})
		}

		if isFile {
			path := utils.GetAbsolutePath(list.File, c.GetConfigDir())
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				validationErrors = append(validationErrors, ValidationError{
					ItemName:  itemName,
					FieldPath: "file",
					Message:   fmt.Sprintf("file does not exist: %s", path),
				})
			}
		}
	}

	return validationErrors
}

// convertValidatorErrors converts go-playground/validator errors to our ValidationError format
func convertValidatorErrors(err error, fieldPrefix string, itemName string) ValidationErrors {
	var validationErrors ValidationErrors

	var validatorErrs validator.ValidationErrors
	if errors.As(err, &validatorErrs) {
		for _, e := range validatorErrs {
			// Namespace is "<Struct>.<toml path>"; drop the struct name
			fieldName := e.Field()
			if _, rest, ok := strings.Cut(e.Namespace(), "."); ok {
				fieldName = rest
			}

			fieldPath := fieldPrefix
			if fieldName != "" {
				if fieldPrefix != "" {
					fieldPath = fieldPrefix + "." + fieldName
				} else {
					fieldPath = fieldName
				}
			}

			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: fieldPath,
				Message:   getValidationMessage(e),
			})
		}
	}

	return validationErrors
}
