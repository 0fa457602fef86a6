package reader

import (
	"fmt"
	"net"
	"strings"
)

const (
	maxDescriptionLength = 200
	maxUniqueNameLength  = 64
	maxHostLength        = 253
)

// Validate checks a reader before it is persisted.
// Returns an error wrapping ErrInvalidReader describing the first failure.
func Validate(r *Reader) error {
	if r == nil {
		return ErrInvalidReader
	}

	if err := validateHost("ip_address", r.IPAddress, true); err != nil {
		return err
	}
	if err := validateHost("ip_address_effective", r.IPAddressEffective, false); err != nil {
		return err
	}

	name := strings.TrimSpace(r.UniqueName)
	if name == "" {
		return fmt.Errorf("%w: unique_name is required", ErrInvalidReader)
	}
	if len(name) > maxUniqueNameLength {
		return fmt.Errorf("%w: unique_name exceeds %d characters", ErrInvalidReader, maxUniqueNameLength)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: unique_name contains NUL", ErrInvalidReader)
	}

	if len(r.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidReader, maxDescriptionLength)
	}

	if err := validatePort("port", r.Port); err != nil {
		return err
	}
	if err := validatePort("port_ws", r.PortWS); err != nil {
		return err
	}

	if r.Driver != DriverLMPI {
		return fmt.Errorf("%w: unsupported driver %d", ErrInvalidReader, r.Driver)
	}
	return nil
}

func validateHost(field, host string, required bool) error {
	host = strings.TrimSpace(host)
	if host == "" {
		if required {
			return fmt.Errorf("%w: %s is required", ErrInvalidReader, field)
		}
		return nil
	}
	if len(host) > maxHostLength {
		return fmt.Errorf("%w: %s too long", ErrInvalidReader, field)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	// Accept hostnames; reject anything with whitespace or a port suffix.
	if strings.ContainsAny(host, " \t/:") {
		return fmt.Errorf("%w: %s %q is not a host", ErrInvalidReader, field, host)
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %s %d out of range", ErrInvalidReader, field, port)
	}
	return nil
}
