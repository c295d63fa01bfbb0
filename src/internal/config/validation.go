package config

import (
	"fmt"
	"net"
	"net/netip"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// getValidationMessage returns a human-readable message for a validation error
func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "min", "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "ipv4":
		return "must be a valid IPv4 address"
	case "ipv4_prefix":
		return "must be an IPv4 address with prefix length, e.g. 192.168.50.1/24"
	case "hostport_or_empty":
		return "must be in format 'host:port' or empty"
	case "upstream_addr":
		return "must be an IPv4 address with optional port, e.g. 1.1.1.1 or 1.1.1.1:53"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

// ValidationError represents a single validation error with context
type ValidationError struct {
	ItemName  string // For lists: the name of the item (e.g., "ads", "local-file")
	FieldPath string // Dot-notation field path (e.g., "tunnel.address", "upstream.servers.0")
	Message   string // Human-readable error message
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("validation failed with %d error(s):\n", len(ve)))
	for i, err := range ve {
		if err.ItemName != "" {
			sb.WriteString(fmt.Sprintf("  %d. [%s] %s: %s\n", i+1, err.ItemName, err.FieldPath, err.Message))
		} else {
			sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.FieldPath, err.Message))
		}
	}
	return sb.String()
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("ipv4_prefix", validateIPv4Prefix); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("hostport_or_empty", validateHostPortOrEmpty); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("upstream_addr", validateUpstreamAddrTag); err != nil {
		panic(err)
	}

	// Report fields by their TOML names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateIPv4Prefix(fl validator.FieldLevel) bool {
	p, err := netip.ParsePrefix(fl.Field().String())
	return err == nil && p.Addr().Is4()
}

// Custom validator: host:port format or empty
func validateHostPortOrEmpty(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, _, err := net.SplitHostPort(value)
	return err == nil
}

func validateUpstreamAddrTag(fl validator.FieldLevel) bool {
	_, err := ParseUpstreamAddr(fl.Field().String())
	return err == nil
}

// ParseUpstreamAddr parses "ip" or "ip:port" into an IPv4 address and port,
// defaulting the port to 53.
func ParseUpstreamAddr(value string) (netip.AddrPort, error) {
	if value == "" {
		return netip.AddrPort{}, fmt.Errorf("upstream address cannot be empty")
	}

	if addr, err := netip.ParseAddr(value); err == nil {
		if !addr.Is4() {
			return netip.AddrPort{}, fmt.Errorf("upstream %s is not an IPv4 address", value)
		}
		return netip.AddrPortFrom(addr, 53), nil
	}

	host, port, err := net.SplitHostPort(value)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid upstream format %q (expected ip or ip:port)", value)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return netip.AddrPort{}, fmt.Errorf("upstream %s is not an IPv4 address", host)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return netip.AddrPort{}, fmt.Errorf("invalid upstream port %q", port)
	}
	return netip.AddrPortFrom(addr, uint16(p)), nil
}
