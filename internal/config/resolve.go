package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
)

// DefaultPort is the documented default MySQL port, used when a layer names a
// host but no port (service-name resolution, DSNs without an explicit port).
const DefaultPort = 3306

// Defaults applied by the service-name layer. A service name identifies the
// store's address only; the remaining descriptor fields come from these
// constants, never from another layer.
const (
	defaultServiceUser     = "root"
	defaultServiceDatabase = "app"
)

// Error reports missing or malformed configuration. It is never retried: a
// bad port or an absent host is an operator mistake, not a transient
// condition, and waiting will not fix it.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Descriptor is the normalized set of parameters needed to reach and
// authenticate against the backing store. It is an immutable value: built
// once per bootstrap attempt, discarded and rebuilt on reconnect, never
// patched in place.
type Descriptor struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Addr returns the host:port dial address.
func (d Descriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// DSN returns the go-sql-driver DSN for this descriptor.
func (d Descriptor) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", d.User, d.Password, d.Addr(), d.Database)
}

// LogValue redacts the password so a descriptor can be logged safely.
func (d Descriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", d.Host),
		slog.Int("port", d.Port),
		slog.String("user", d.User),
		slog.String("database", d.Database),
	)
}

// Resolve extracts a connection descriptor from the layered database
// configuration. Layers are tried in strict precedence order:
//
//  1. a complete driver DSN (database.url / TWOTIER_DATABASE_URL),
//  2. a resolvable service name plus DefaultPort (database.service),
//  3. a literal address block (database.host et al.).
//
// The first layer that is present wins outright. A layer that is present but
// malformed is a hard *Error — resolution never falls through past broken
// input, and fields are never combined across layers. Merging was the
// historical failure mode: a stale address fragment from one layer surviving
// underneath fresh values from another.
func Resolve(db DatabaseConfig) (Descriptor, error) {
	layers := []struct {
		name string
		fn   func(DatabaseConfig) (Descriptor, bool, error)
	}{
		{"url", fromURL},
		{"service", fromService},
		{"address", fromAddress},
	}

	for _, layer := range layers {
		desc, ok, err := layer.fn(db)
		if err != nil {
			return Descriptor{}, err
		}
		if ok {
			return desc, nil
		}
	}

	return Descriptor{}, &Error{Field: "database", Reason: "no connection layer configured"}
}

// fromURL parses the combined connection string layer.
func fromURL(db DatabaseConfig) (Descriptor, bool, error) {
	if db.URL == "" {
		return Descriptor{}, false, nil
	}

	cfg, err := mysql.ParseDSN(db.URL)
	if err != nil {
		return Descriptor{}, false, &Error{Field: "database.url", Reason: err.Error()}
	}

	host, port, err := splitAddr(cfg.Addr)
	if err != nil {
		return Descriptor{}, false, &Error{Field: "database.url", Reason: err.Error()}
	}
	if cfg.DBName == "" {
		return Descriptor{}, false, &Error{Field: "database.url", Reason: "missing database name"}
	}

	return Descriptor{
		Host:     host,
		Port:     port,
		User:     cfg.User,
		Password: cfg.Passwd,
		Database: cfg.DBName,
	}, true, nil
}

// fromService builds a descriptor from a bare service name and the documented
// default port. Credentials come from this layer's own defaults.
func fromService(db DatabaseConfig) (Descriptor, bool, error) {
	if db.Service == "" {
		return Descriptor{}, false, nil
	}

	return Descriptor{
		Host:     db.Service,
		Port:     DefaultPort,
		User:     defaultServiceUser,
		Database: defaultServiceDatabase,
	}, true, nil
}

// fromAddress builds a descriptor from the literal address block. The block
// is absent only when every field is empty; a partially filled block is
// malformed, not skippable.
func fromAddress(db DatabaseConfig) (Descriptor, bool, error) {
	if db.Host == "" && db.Port == "" && db.User == "" && db.Password == "" && db.Name == "" {
		return Descriptor{}, false, nil
	}

	if db.Host == "" {
		return Descriptor{}, false, &Error{Field: "database.host", Reason: "missing host"}
	}
	if db.Name == "" {
		return Descriptor{}, false, &Error{Field: "database.name", Reason: "missing database name"}
	}

	port := DefaultPort
	if db.Port != "" {
		p, err := strconv.Atoi(db.Port)
		if err != nil {
			return Descriptor{}, false, &Error{Field: "database.port", Reason: fmt.Sprintf("non-numeric port %q", db.Port)}
		}
		port = p
	}
	if port < 1 || port > 65535 {
		return Descriptor{}, false, &Error{Field: "database.port", Reason: fmt.Sprintf("port %d out of range", port)}
	}

	return Descriptor{
		Host:     db.Host,
		Port:     port,
		User:     db.User,
		Password: db.Password,
		Database: db.Name,
	}, true, nil
}

// splitAddr splits a driver address into host and port, defaulting the port
// when the address carries none.
func splitAddr(addr string) (string, int, error) {
	if addr == "" {
		return "", 0, fmt.Errorf("missing host")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port in the address — use the documented default.
		return addr, DefaultPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("non-numeric port %q", portStr)
	}
	if port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("port %d out of range", port)
	}

	return host, port, nil
}
