package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// parseYAML parses the specific two-level mapping used by config.yaml
func parseYAML(r io.Reader, cfg *Config) error {
	type section int
	const (
		none section = iota
		drv
		rs
		sk
		loc
		pol
		ctl
		db
		rm
		jw
	)

	sectionNames := map[string]section{
		"driver:":   drv,
		"rest:":     rs,
		"socket:":   sk,
		"location:": loc,
		"policy:":   pol,
		"control:":  ctl,
		"database:": db,
		"rabbitmq:": rm,
		"jwt:":      jw,
	}

	scanner := bufio.NewScanner(r)
	var cur section

	lineNo := 0
	seenTop := map[section]bool{}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		// strip comments
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}

		line := strings.TrimRight(raw, " \t\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		// top-level section? (no leading spaces)
		if line[0] != ' ' && line[0] != '\t' {
			name := strings.TrimSpace(line)
			sec, ok := sectionNames[name]
			if !ok {
				return fmt.Errorf("line %d: unknown top-level key %q", lineNo, strings.TrimSuffix(name, ":"))
			}
			if seenTop[sec] {
				return fmt.Errorf("line %d: duplicate %q section", lineNo, strings.TrimSuffix(name, ":"))
			}
			seenTop[sec] = true
			cur = sec
			continue
		}

		// expect indented "key: value"
		if cur == none {
			return fmt.Errorf("line %d: key without a section", lineNo)
		}
		trim := strings.TrimSpace(line)
		colon := strings.IndexByte(trim, ':')
		if colon <= 0 {
			return fmt.Errorf("line %d: expected 'key: value'", lineNo)
		}
		key := strings.TrimSpace(trim[:colon])
		val := resolveScalar(trim[colon+1:])

		var err error
		switch cur {
		case drv:
			err = setDriverKey(cfg, key, val)
		case rs:
			err = setRESTKey(cfg, key, val)
		case sk:
			err = setSocketKey(cfg, key, val)
		case loc:
			err = setLocationKey(cfg, key, val)
		case pol:
			err = setPolicyKey(cfg, key, val)
		case ctl:
			err = setControlKey(cfg, key, val)
		case db:
			err = setDatabaseKey(cfg, key, val)
		case rm:
			err = setRabbitKey(cfg, key, val)
		case jw:
			err = setJWTKey(cfg, key, val)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}

	return scanner.Err()
}

func setDriverKey(cfg *Config, key, val string) error {
	switch key {
	case "token":
		cfg.Driver.Token = val
	default:
		return fmt.Errorf("unknown key in driver: %q", key)
	}
	return nil
}

func setRESTKey(cfg *Config, key, val string) error {
	switch key {
	case "base_url":
		cfg.REST.BaseURL = val
	case "timeout_seconds":
		return parseInt(val, "rest.timeout_seconds", &cfg.REST.TimeoutSeconds)
	default:
		return fmt.Errorf("unknown key in rest: %q", key)
	}
	return nil
}

func setSocketKey(cfg *Config, key, val string) error {
	switch key {
	case "url":
		cfg.Socket.URL = val
	case "ack_timeout_ms":
		return parseInt(val, "socket.ack_timeout_ms", &cfg.Socket.AckTimeoutMS)
	case "ping_interval_seconds":
		return parseInt(val, "socket.ping_interval_seconds", &cfg.Socket.PingIntervalSeconds)
	default:
		return fmt.Errorf("unknown key in socket: %q", key)
	}
	return nil
}

func setLocationKey(cfg *Config, key, val string) error {
	switch key {
	case "min_interval_seconds":
		return parseInt(val, "location.min_interval_seconds", &cfg.Location.MinIntervalSeconds)
	case "min_distance_meters":
		return parseFloat(val, "location.min_distance_meters", &cfg.Location.MinDistanceMeters)
	case "start_lat":
		return parseFloat(val, "location.start_lat", &cfg.Location.StartLat)
	case "start_lng":
		return parseFloat(val, "location.start_lng", &cfg.Location.StartLng)
	default:
		return fmt.Errorf("unknown key in location: %q", key)
	}
}

func setPolicyKey(cfg *Config, key, val string) error {
	switch key {
	case "force_offline_on_inactive":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("policy.force_offline_on_inactive must be bool: %v", err)
		}
		cfg.Policy.ForceOfflineOnInactive = b
	default:
		return fmt.Errorf("unknown key in policy: %q", key)
	}
	return nil
}

func setControlKey(cfg *Config, key, val string) error {
	switch key {
	case "port":
		return parseInt(val, "control.port", &cfg.Control.Port)
	default:
		return fmt.Errorf("unknown key in control: %q", key)
	}
}

func setDatabaseKey(cfg *Config, key, val string) error {
	switch key {
	case "host":
		cfg.Database.Host = val
	case "port":
		return parseInt(val, "database.port", &cfg.Database.Port)
	case "user":
		cfg.Database.User = val
	case "password":
		cfg.Database.Password = val
	case "database":
		cfg.Database.Name = val
	default:
		return fmt.Errorf("unknown key in database: %q", key)
	}
	return nil
}

func setRabbitKey(cfg *Config, key, val string) error {
	switch key {
	case "host":
		cfg.RabbitMQ.Host = val
	case "port":
		return parseInt(val, "rabbitmq.port", &cfg.RabbitMQ.Port)
	case "user":
		cfg.RabbitMQ.User = val
	case "password":
		cfg.RabbitMQ.Password = val
	default:
		return fmt.Errorf("unknown key in rabbitmq: %q", key)
	}
	return nil
}

func setJWTKey(cfg *Config, key, val string) error {
	switch key {
	case "secret_key":
		cfg.JWT.SecretKey = val
	default:
		return fmt.Errorf("unknown key in jwt: %q", key)
	}
	return nil
}

func parseInt(val, name string, dst *int) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s must be int: %v", name, err)
	}
	*dst = n
	return nil
}

func parseFloat(val, name string, dst *float64) error {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("%s must be a number: %v", name, err)
	}
	*dst = f
	return nil
}

// resolveScalar trims whitespace and removes surrounding quotes from YAML-like scalars.
func resolveScalar(s string) string {
	s = strings.TrimSpace(s)

	n := len(s)
	if n >= 2 {
		if (s[0] == '"' && s[n-1] == '"') || (s[0] == '\'' && s[n-1] == '\'') {
			if unq, err := strconv.Unquote(s); err == nil {
				return unq
			}
			// fallback if strconv.Unquote fails (e.g., mismatched quotes)
			return s[1 : n-1]
		}
	}

	return s
}
